// Copyright 2026 Tizen Display Team. All rights reserved.

// Package surface provides a plain-memory implementation of the
// frontend's Surface and Queue interfaces. The display manager
// itself never allocates pixel storage; this package stands in for
// the platform buffer allocator in the reference tools and tests.
package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tizenorg/tdm"
)

// userSlot is one keyed user-data slot.
type userSlot struct {
	value   any
	destroy func(any)
	set     bool
}

// Buffer is a RAM-backed Surface.
type Buffer struct {
	mu        sync.Mutex
	info      tdm.SurfaceInfo
	data      []byte
	refs      int
	userData  map[any]*userSlot
	destroyed bool
}

// Alloc creates a buffer of the given geometry with a single
// reference. Supported formats: 32-bit RGB (AR24/XR24), 16-bit
// RGB (RG16) and NV12.
func Alloc(width, height uint32, format tdm.Format) (*Buffer, error) {
	if width == 0 || height == 0 {
		return nil, errors.New("surface: zero size")
	}
	info := tdm.SurfaceInfo{
		Width:  width,
		Height: height,
		Format: format,
	}
	switch format {
	case tdm.FormatARGB8888, tdm.FormatXRGB8888:
		info.BPP = 32
		info.NumPlanes = 1
		info.Planes[0].Stride = width * 4
		info.Planes[0].Size = width * 4 * height
	case tdm.FormatRGB565:
		info.BPP = 16
		info.NumPlanes = 1
		info.Planes[0].Stride = width * 2
		info.Planes[0].Size = width * 2 * height
	case tdm.FormatNV12:
		info.BPP = 12
		info.NumPlanes = 2
		info.Planes[0].Stride = width
		info.Planes[0].Size = width * height
		info.Planes[1].Offset = width * height
		info.Planes[1].Stride = width
		info.Planes[1].Size = width * height / 2
	default:
		return nil, fmt.Errorf("surface: unsupported format %s", format)
	}
	var total uint32
	for i := 0; i < info.NumPlanes; i++ {
		total += info.Planes[i].Size
	}
	info.Size = total

	return &Buffer{
		info:     info,
		data:     make([]byte, total),
		refs:     1,
		userData: make(map[any]*userSlot),
	}, nil
}

// Info implements tdm.Surface.
func (b *Buffer) Info() tdm.SurfaceInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info
}

// Map implements tdm.Surface.
func (b *Buffer) Map() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return nil, errors.New("surface: destroyed")
	}
	return b.data, nil
}

// Unmap implements tdm.Surface.
func (b *Buffer) Unmap() {}

// Ref implements tdm.Surface.
func (b *Buffer) Ref() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
}

// Unref implements tdm.Surface. Dropping the last reference fires
// the user-data destroy callbacks, with the buffer still mapped
// and valid, then frees the storage.
func (b *Buffer) Unref() {
	b.mu.Lock()
	b.refs--
	if b.refs > 0 || b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	slots := make([]*userSlot, 0, len(b.userData))
	for _, s := range b.userData {
		slots = append(slots, s)
	}
	b.mu.Unlock()

	for _, s := range slots {
		if s.destroy != nil && s.set {
			s.destroy(s.value)
		}
	}

	b.mu.Lock()
	b.userData = nil
	b.data = nil
	b.mu.Unlock()
}

// UserData implements tdm.Surface.
func (b *Buffer) UserData(key any) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.userData[key]
	if !ok || !s.set {
		return nil, false
	}
	return s.value, true
}

// AddUserData implements tdm.Surface.
func (b *Buffer) AddUserData(key any, destroy func(any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.userData == nil {
		return
	}
	if _, ok := b.userData[key]; !ok {
		b.userData[key] = &userSlot{destroy: destroy}
	}
}

// SetUserData implements tdm.Surface.
func (b *Buffer) SetUserData(key, value any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.userData[key]
	if !ok {
		return false
	}
	s.value = value
	s.set = true
	return true
}

// Queue is a fixed-depth producer/consumer queue of buffers,
// implementing tdm.Queue. The producer dequeues free buffers,
// renders and enqueues them; the consumer side is driven by the
// display manager.
type Queue struct {
	mu sync.Mutex

	free      []*Buffer
	published []*Buffer

	acquirable map[int]func()
	destroyFns map[int]func()
	nextID     int

	destroyed bool
}

// NewQueue allocates depth buffers of the given geometry.
func NewQueue(depth int, width, height uint32, format tdm.Format) (*Queue, error) {
	if depth <= 0 {
		return nil, errors.New("surface: non-positive queue depth")
	}
	q := &Queue{
		acquirable: make(map[int]func()),
		destroyFns: make(map[int]func()),
	}
	for i := 0; i < depth; i++ {
		b, err := Alloc(width, height, format)
		if err != nil {
			return nil, err
		}
		q.free = append(q.free, b)
	}
	return q, nil
}

// Dequeue hands the producer a free buffer to render into.
func (q *Queue) Dequeue() (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return nil, errors.New("surface: queue destroyed")
	}
	if len(q.free) == 0 {
		return nil, errors.New("surface: queue empty")
	}
	b := q.free[0]
	q.free = q.free[1:]
	return b, nil
}

// Enqueue publishes a rendered buffer and notifies acquirable
// handlers.
func (q *Queue) Enqueue(b *Buffer) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.published = append(q.published, b)
	fns := make([]func(), 0, len(q.acquirable))
	for _, fn := range q.acquirable {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Acquire implements tdm.Queue.
func (q *Queue) Acquire() (tdm.Surface, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) == 0 {
		return nil, errors.New("surface: nothing published")
	}
	b := q.published[0]
	q.published = q.published[1:]
	return b, nil
}

// Release implements tdm.Queue.
func (q *Queue) Release(s tdm.Surface) {
	b, ok := s.(*Buffer)
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.free = append(q.free, b)
}

// AddAcquirableHandler implements tdm.Queue. The handler never
// runs synchronously from this call.
func (q *Queue) AddAcquirableHandler(fn func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.acquirable[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.acquirable, id)
	}
}

// AddDestroyHandler implements tdm.Queue.
func (q *Queue) AddDestroyHandler(fn func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.destroyFns[id] = fn
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.destroyFns, id)
	}
}

// Destroy notifies destroy handlers and drops every buffer.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	fns := make([]func(), 0, len(q.destroyFns))
	for _, fn := range q.destroyFns {
		fns = append(fns, fn)
	}
	free := q.free
	q.free = nil
	q.published = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	for _, b := range free {
		b.Unref()
	}
}
