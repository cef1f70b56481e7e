// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"reflect"
	"sync"
)

// bufferKey is the user-data key under which the tracker record is
// stored in the allocator's slot.
type bufferKeyType struct{}

var bufferKey bufferKeyType

// bufferFunc is one registered release or destroy handler.
type bufferFunc struct {
	release  BufferReleaseHandler
	destroy  BufferDestroyHandler
	userData any
}

// bufferInfo is the tracker record attached to a surface.
type bufferInfo struct {
	mu sync.Mutex

	surface Surface

	// reference count held on behalf of the backend
	backendRefCount int

	releaseFuncs []bufferFunc
	destroyFuncs []bufferFunc
}

// bufferGetInfo returns the tracker record of buffer, creating and
// attaching it on first use.
func bufferGetInfo(buffer Surface) *bufferInfo {
	if v, ok := buffer.UserData(bufferKey); ok {
		return v.(*bufferInfo)
	}

	info := &bufferInfo{surface: buffer}
	buffer.AddUserData(bufferKey, func(v any) {
		bufferDestroyInfo(v.(*bufferInfo))
	})
	if !buffer.SetUserData(bufferKey, info) {
		log().Errorf("buffer %p: storing tracker record failed", buffer)
		return nil
	}

	if dbgBuffer.Load() {
		log().Infof("buffer %p: tracker record created", buffer)
	}
	return info
}

// bufferDestroyInfo runs when the allocator destroys the surface.
// The destroy handlers run first, with the surface still valid.
func bufferDestroyInfo(info *bufferInfo) {
	info.mu.Lock()
	if info.backendRefCount > 0 {
		log().Errorf("buffer %p: destroyed with %d backend refs",
			info.surface, info.backendRefCount)
	}
	info.releaseFuncs = nil
	destroys := info.destroyFuncs
	info.destroyFuncs = nil
	info.mu.Unlock()

	for _, f := range destroys {
		f.destroy(info.surface, f.userData)
	}

	if dbgBuffer.Load() {
		log().Infof("buffer %p: tracker record destroyed", info.surface)
	}
}

// RefBufferBackend takes one backend reference on buffer, pinning
// it for the duration of hardware use. It returns buffer.
func RefBufferBackend(buffer Surface) Surface {
	if buffer == nil {
		return nil
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return nil
	}

	info.mu.Lock()
	info.backendRefCount++
	info.mu.Unlock()
	buffer.Ref()

	return buffer
}

// UnrefBufferBackend drops one backend reference on buffer. When
// the count reaches zero every release handler is invoked, in
// registration order, with a transient reference held around each
// call, and finally the allocator reference is dropped.
//
// Must be called on the event-loop thread.
func UnrefBufferBackend(buffer Surface) {
	if buffer == nil {
		return
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return
	}

	info.mu.Lock()
	info.backendRefCount--
	if info.backendRefCount > 0 {
		info.mu.Unlock()
		buffer.Unref()
		return
	}
	releases := make([]bufferFunc, len(info.releaseFuncs))
	copy(releases, info.releaseFuncs)
	info.mu.Unlock()

	for _, f := range releases {
		buffer.Ref()
		f.release(buffer, f.userData)
		buffer.Unref()
	}

	buffer.Unref()
}

// AddBufferReleaseHandler registers fn to run when the backend
// reference count of buffer drops to zero.
func AddBufferReleaseHandler(buffer Surface, fn BufferReleaseHandler, userData any) Error {
	if buffer == nil || fn == nil {
		return ErrInvalidParameter
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return ErrOutOfMemory
	}

	info.mu.Lock()
	info.releaseFuncs = append(info.releaseFuncs, bufferFunc{release: fn, userData: userData})
	info.mu.Unlock()

	return ErrNone
}

// RemoveBufferReleaseHandler removes the first handler matching
// (fn, userData).
func RemoveBufferReleaseHandler(buffer Surface, fn BufferReleaseHandler, userData any) {
	if buffer == nil || fn == nil {
		return
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return
	}

	fp := reflect.ValueOf(fn).Pointer()
	info.mu.Lock()
	for i, f := range info.releaseFuncs {
		if reflect.ValueOf(f.release).Pointer() != fp || f.userData != userData {
			continue
		}
		info.releaseFuncs = append(info.releaseFuncs[:i], info.releaseFuncs[i+1:]...)
		break
	}
	info.mu.Unlock()
}

// AddBufferDestroyHandler registers fn to run when the allocator
// destroys buffer. Destroy handlers fire after all release
// handlers have drained.
func AddBufferDestroyHandler(buffer Surface, fn BufferDestroyHandler, userData any) Error {
	if buffer == nil || fn == nil {
		return ErrInvalidParameter
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return ErrOutOfMemory
	}

	info.mu.Lock()
	info.destroyFuncs = append(info.destroyFuncs, bufferFunc{destroy: fn, userData: userData})
	info.mu.Unlock()

	return ErrNone
}

// RemoveBufferDestroyHandler removes the first handler matching
// (fn, userData).
func RemoveBufferDestroyHandler(buffer Surface, fn BufferDestroyHandler, userData any) {
	if buffer == nil || fn == nil {
		return
	}
	info := bufferGetInfo(buffer)
	if info == nil {
		return
	}

	fp := reflect.ValueOf(fn).Pointer()
	info.mu.Lock()
	for i, f := range info.destroyFuncs {
		if reflect.ValueOf(f.destroy).Pointer() != fp || f.userData != userData {
			continue
		}
		info.destroyFuncs = append(info.destroyFuncs[:i], info.destroyFuncs[i+1:]...)
		break
	}
	info.mu.Unlock()
}

// bufferListDump logs the surfaces of a buffer list when buffer
// debugging is on.
func bufferListDump(tag string, buffers []Surface) {
	if !dbgBuffer.Load() {
		return
	}
	ptrs := make([]any, 0, len(buffers))
	for _, b := range buffers {
		ptrs = append(ptrs, b)
	}
	log().Infof("%s:%v", tag, ptrs)
}
