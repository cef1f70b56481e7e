// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

// PlaneInfo describes one plane of a surface.
type PlaneInfo struct {
	Size   uint32
	Offset uint32
	Stride uint32
}

// SurfaceInfo is the geometry and layout of a surface.
type SurfaceInfo struct {
	Width     uint32
	Height    uint32
	Format    Format
	BPP       uint32
	Size      uint32
	NumPlanes int
	Planes    [4]PlaneInfo
	Flags     uint32
}

// Surface is the narrow interface to an externally-allocated
// framebuffer. The allocator is an external collaborator; the
// frontend never allocates pixel memory itself.
//
// User-data slots follow the allocator's model: a keyed value with
// a destroy callback that the allocator invokes, with the surface
// still valid, when the surface is finally destroyed.
type Surface interface {
	// Info returns the surface geometry and plane layout.
	Info() SurfaceInfo

	// Map returns the backing bytes of the surface.
	// The slice stays valid until Unmap.
	Map() ([]byte, error)

	// Unmap releases a mapping obtained with Map.
	Unmap()

	// Ref increments the allocator reference count.
	Ref()

	// Unref decrements the allocator reference count, destroying
	// the surface when it reaches zero.
	Unref()

	// UserData returns the value stored under key, if any.
	UserData(key any) (any, bool)

	// AddUserData reserves a user-data slot under key. destroy, if
	// not nil, runs when the surface is destroyed.
	AddUserData(key any, destroy func(value any))

	// SetUserData stores value under a key previously reserved
	// with AddUserData.
	SetUserData(key, value any) bool
}

// Queue is the narrow interface to an external producer queue a
// layer may be bound to. The frontend acquires surfaces the
// producer has published and releases them when the hardware is
// done scanning them out.
type Queue interface {
	// Acquire dequeues the next published surface.
	Acquire() (Surface, error)

	// Release returns a surface to the producer.
	Release(Surface)

	// AddAcquirableHandler registers fn to run whenever a surface
	// becomes acquirable. The returned function unregisters it.
	AddAcquirableHandler(fn func()) (remove func())

	// AddDestroyHandler registers fn to run when the queue is
	// destroyed by its owner. The returned function unregisters it.
	AddDestroyHandler(fn func()) (remove func())
}
