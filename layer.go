// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

// Layer represents one hardware composition plane attached to
// exactly one output. It lives and dies with its output.
//
// SetBuffer stores a buffer as waiting; it becomes showing when the
// next commit completes, and the previous showing buffer is
// released then.
type Layer struct {
	d      *Display
	output *Output

	caps    LayerCaps
	backend BackendLayer

	pending Surface
	waiting Surface
	showing Surface

	queue              Queue
	removeAcquirable   func()
	removeQueueDestroy func()

	captures []*Capture

	usable bool
}

// Capabilities returns the plane capability bitset.
func (l *Layer) Capabilities() (LayerCapability, Error) {
	if l == nil {
		return 0, ErrInvalidParameter
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.caps.Capabilities, ErrNone
}

// AvailableFormats returns the supported pixel formats.
func (l *Layer) AvailableFormats() ([]Format, Error) {
	if l == nil {
		return nil, ErrInvalidParameter
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.caps.Formats, ErrNone
}

// AvailableProperties returns the supported properties.
func (l *Layer) AvailableProperties() ([]Prop, Error) {
	if l == nil {
		return nil, ErrInvalidParameter
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.caps.Props, ErrNone
}

// Zpos returns the stacking position. Graphic-layer zpos is fixed;
// video layers report the backend-assigned value, outside the
// graphic range.
func (l *Layer) Zpos() (int, Error) {
	if l == nil {
		return 0, ErrInvalidParameter
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.caps.Zpos, ErrNone
}

// Output returns the owning output.
func (l *Layer) Output() *Output {
	if l == nil {
		return nil
	}
	return l.output
}

// SetProperty forwards a property write to the backend.
func (l *Layer) SetProperty(id uint32, value Value) Error {
	if l == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcLayer.SetProperty == nil {
		log().Error("layer set property not implemented")
		return ErrNotImplemented
	}
	return d.funcLayer.SetProperty(l.backend, id, value)
}

// GetProperty forwards a property read to the backend.
func (l *Layer) GetProperty(id uint32) (Value, Error) {
	if l == nil {
		return Value{}, ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcLayer.GetProperty == nil {
		log().Error("layer get property not implemented")
		return Value{}, ErrNotImplemented
	}
	return d.funcLayer.GetProperty(l.backend, id)
}

// SetInfo pushes plane geometry to the backend. The frontend does
// not cache the info; the backend stays authoritative. The layer
// stops being usable.
func (l *Layer) SetInfo(info *LayerInfo) Error {
	if l == nil || info == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	l.usable = false

	if d.funcLayer.SetInfo == nil {
		log().Error("layer set info not implemented")
		return ErrNotImplemented
	}

	if dbgLayer.Load() {
		log().Infof("layer %p info: src(%dx%d %d,%d %dx%d %s) dst(%d,%d %dx%d) trans(%d)",
			l, info.SrcConfig.Size.H, info.SrcConfig.Size.V,
			info.SrcConfig.Pos.X, info.SrcConfig.Pos.Y,
			info.SrcConfig.Pos.W, info.SrcConfig.Pos.H,
			info.SrcConfig.Format,
			info.DstPos.X, info.DstPos.Y, info.DstPos.W, info.DstPos.H,
			info.Transform)
	}

	err := d.funcLayer.SetInfo(l.backend, info)
	if err != ErrNone {
		log().Warnf("layer %p set info failed", l)
	}
	return err
}

// GetInfo returns the plane geometry from the backend.
func (l *Layer) GetInfo() (*LayerInfo, Error) {
	if l == nil {
		return nil, ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcLayer.GetInfo == nil {
		log().Error("layer get info not implemented")
		return nil, ErrNotImplemented
	}
	return d.funcLayer.GetInfo(l.backend)
}

// SetBuffer hands buffer to the backend and stores it as the
// waiting buffer, holding one backend ref for the duration of
// hardware use. The queue depth is one: a previous waiting buffer
// is released first. The buffer becomes showing on the next
// successful commit completion.
func (l *Layer) SetBuffer(buffer Surface) Error {
	if l == nil || buffer == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	l.usable = false

	if d.funcLayer.SetBuffer == nil {
		log().Error("layer set buffer not implemented")
		return ErrNotImplemented
	}

	err := d.funcLayer.SetBuffer(l.backend, buffer)
	if err != ErrNone {
		log().Warnf("layer %p set buffer failed", l)
		return err
	}

	dumpLayerBuffer(l, buffer)

	if l.waiting != nil {
		prev := l.waiting
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		d.mu.Lock()
	}
	l.waiting = RefBufferBackend(buffer)

	if dbgBuffer.Load() {
		log().Infof("layer %p waiting(%p)", l, l.waiting)
	}
	return ErrNone
}

// UnsetBuffer drops the waiting and showing refs, returns the
// layer to usable and clears the plane in the backend.
func (l *Layer) UnsetBuffer() Error {
	if l == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.waiting != nil {
		prev := l.waiting
		l.waiting = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		d.mu.Lock()
	}
	if l.showing != nil {
		prev := l.showing
		l.showing = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		d.mu.Lock()
	}

	l.usable = true

	if d.funcLayer.UnsetBuffer == nil {
		log().Error("layer unset buffer not implemented")
		return ErrNotImplemented
	}
	err := d.funcLayer.UnsetBuffer(l.backend)
	if err != ErrNone {
		log().Warnf("layer %p unset buffer failed", l)
	}
	return err
}

// IsUsable reports whether the layer is free for the compositor to
// take: no buffer set and no queue bound.
func (l *Layer) IsUsable() (bool, Error) {
	if l == nil {
		return false, ErrInvalidParameter
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.usable, ErrNone
}

// SetBufferQueue binds an external producer queue to the layer.
// Whenever the queue reports a surface acquirable the frontend
// acquires it, sets it on the plane and triggers a commit with no
// user handler.
func (l *Layer) SetBufferQueue(queue Queue) Error {
	if l == nil || queue == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	l.usable = false

	if d.funcLayer.SetBuffer == nil {
		log().Error("layer set buffer not implemented")
		return ErrNotImplemented
	}
	if queue == l.queue {
		return ErrNone
	}

	if l.waiting != nil {
		prev := l.waiting
		oldQueue := l.queue
		l.waiting = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		if oldQueue != nil {
			oldQueue.Release(prev)
		}
		d.mu.Lock()
	}

	l.queue = queue
	l.removeAcquirable = queue.AddAcquirableHandler(func() { l.queueAcquirable() })
	l.removeQueueDestroy = queue.AddDestroyHandler(func() { l.queueDestroyed() })
	return ErrNone
}

// UnsetBufferQueue releases in-flight refs, clears the binding and
// the plane.
func (l *Layer) UnsetBufferQueue() Error {
	if l == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.queue == nil {
		return ErrNone
	}

	if l.waiting != nil {
		prev := l.waiting
		queue := l.queue
		l.waiting = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		queue.Release(prev)
		d.mu.Lock()
	}
	if l.showing != nil {
		prev := l.showing
		queue := l.queue
		l.showing = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		queue.Release(prev)
		d.mu.Lock()
	}

	if l.removeAcquirable != nil {
		l.removeAcquirable()
		l.removeAcquirable = nil
	}
	if l.removeQueueDestroy != nil {
		l.removeQueueDestroy()
		l.removeQueueDestroy = nil
	}
	l.queue = nil
	l.usable = true

	if d.funcLayer.UnsetBuffer == nil {
		log().Error("layer unset buffer not implemented")
		return ErrNotImplemented
	}
	return d.funcLayer.UnsetBuffer(l.backend)
}

// queueAcquirable runs on the producer's notification: acquire one
// surface, set it, commit with a null user handler.
func (l *Layer) queueAcquirable() {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.queue == nil || d.funcLayer.SetBuffer == nil {
		return
	}
	surface, err := l.queue.Acquire()
	if err != nil || surface == nil {
		log().Errorf("layer %p queue acquire failed: %v", l, err)
		return
	}

	if e := d.funcLayer.SetBuffer(l.backend, surface); e != ErrNone {
		log().Warnf("layer %p set buffer failed", l)
		return
	}

	if l.waiting != nil {
		prev := l.waiting
		queue := l.queue
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		queue.Release(prev)
		d.mu.Lock()
	}
	l.waiting = RefBufferBackend(surface)

	if dbgBuffer.Load() {
		log().Infof("layer %p waiting(%p)", l, l.waiting)
	}

	if e := l.output.commitInternal(0, nil, nil); e != ErrNone {
		log().Errorf("layer %p commit failed", l)
	}
}

// queueDestroyed clears the binding when the producer goes away.
func (l *Layer) queueDestroyed() {
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.waiting != nil {
		prev := l.waiting
		queue := l.queue
		l.waiting = nil
		d.mu.Unlock()
		UnrefBufferBackend(prev)
		if queue != nil {
			queue.Release(prev)
		}
		d.mu.Lock()
	}
	l.removeAcquirable = nil
	l.removeQueueDestroy = nil
	l.queue = nil
}

// SetVideoPos sets the stacking position of a video layer. The
// video zpos space is disjoint from the graphic range.
func (l *Layer) SetVideoPos(zpos int) Error {
	if l == nil {
		return ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l.caps.Capabilities&LayerCapabilityVideo == 0 {
		log().Error("layer is not video")
		return ErrInvalidParameter
	}
	if d.funcLayer.SetVideoPos == nil {
		log().Error("layer set video pos not implemented")
		return ErrNotImplemented
	}
	return d.funcLayer.SetVideoPos(l.backend, zpos)
}

// GetBufferFlags returns backend-specific flags describing the
// buffers the plane expects.
func (l *Layer) GetBufferFlags() (uint32, Error) {
	if l == nil {
		return 0, ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcLayer.GetBufferFlags == nil {
		log().Error("layer get buffer flags not implemented")
		return 0, ErrNotImplemented
	}
	return d.funcLayer.GetBufferFlags(l.backend)
}

// CreateCapture creates a capture engine reading back this layer.
func (l *Layer) CreateCapture() (*Capture, Error) {
	if l == nil {
		return nil, ErrInvalidParameter
	}
	d := l.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createCaptureLayer(l)
}

// destroyInternal drops buffer refs at output destruction.
// Lock held.
func (l *Layer) destroyInternal() {
	d := l.d
	for len(l.captures) > 0 {
		l.captures[0].destroyInternal()
	}
	if l.removeAcquirable != nil {
		l.removeAcquirable()
		l.removeAcquirable = nil
	}
	if l.removeQueueDestroy != nil {
		l.removeQueueDestroy()
		l.removeQueueDestroy = nil
	}
	for _, s := range []Surface{l.waiting, l.showing} {
		if s == nil {
			continue
		}
		d.mu.Unlock()
		UnrefBufferBackend(s)
		d.mu.Lock()
	}
	l.waiting = nil
	l.showing = nil
	l.queue = nil
}
