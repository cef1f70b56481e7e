// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"golang.org/x/sys/unix"
)

// captureTarget tells what a capture engine reads back.
type captureTarget int

const (
	captureTargetOutput captureTarget = iota
	captureTargetLayer
)

// Capture is a readback engine attached to an output's composited
// scanout or to a single layer, producing client-owned buffers.
type Capture struct {
	d *Display

	stamp   uint64
	target  captureTarget
	output  *Output
	layer   *Layer
	backend BackendCapture

	pending  []*captureBuf
	inflight []*captureBuf

	ownerTID  int
	nextBufID uint64

	doneFn       CaptureDoneHandler
	doneUserData any
}

// captureBuf is one attached destination buffer.
type captureBuf struct {
	id     uint64
	buffer Surface
}

// createCaptureOutput creates a capture over an output. Lock held.
func (d *Display) createCaptureOutput(o *Output) (*Capture, Error) {
	if d.capabilities&DisplayCapabilityCapture == 0 {
		log().Error("no capture capability")
		return nil, ErrNoCapability
	}

	backend, err := d.funcOutput.CreateCapture(o.backend)
	if err != ErrNone {
		return nil, err
	}
	c := &Capture{
		d:        d,
		target:   captureTargetOutput,
		output:   o,
		backend:  backend,
		ownerTID: unix.Gettid(),
	}
	if err := c.register(); err != ErrNone {
		return nil, err
	}
	o.captures = append(o.captures, c)
	return c, ErrNone
}

// createCaptureLayer creates a capture over a layer. Lock held.
func (d *Display) createCaptureLayer(l *Layer) (*Capture, Error) {
	if d.capabilities&DisplayCapabilityCapture == 0 {
		log().Error("no capture capability")
		return nil, ErrNoCapability
	}

	backend, err := d.funcLayer.CreateCapture(l.backend)
	if err != ErrNone {
		return nil, err
	}
	c := &Capture{
		d:        d,
		target:   captureTargetLayer,
		output:   l.output,
		layer:    l,
		backend:  backend,
		ownerTID: unix.Gettid(),
	}
	if err := c.register(); err != ErrNone {
		return nil, err
	}
	l.captures = append(l.captures, c)
	return c, ErrNone
}

func (c *Capture) register() Error {
	d := c.d
	if err := d.funcCapture.SetDoneHandler(c.backend, backendCaptureDoneCB, c); err != ErrNone {
		log().Errorf("capture %p set done handler failed", c)
		d.funcCapture.Destroy(c.backend)
		return err
	}
	c.stamp = d.newStamp(func(s uint64) bool { return d.findCaptureStamp(s) != nil })
	d.captures = append(d.captures, c)
	return ErrNone
}

// Destroy destroys the capture engine; outstanding buffers are
// released with their release handlers running.
func (c *Capture) Destroy() {
	if c == nil {
		return
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	c.destroyInternal()
}

// destroyInternal unlinks the capture from the display and its
// target and releases everything. Lock held.
func (c *Capture) destroyInternal() {
	d := c.d
	for i, e := range d.captures {
		if e == c {
			d.captures = append(d.captures[:i], d.captures[i+1:]...)
			break
		}
	}
	switch c.target {
	case captureTargetOutput:
		for i, e := range c.output.captures {
			if e == c {
				c.output.captures = append(c.output.captures[:i], c.output.captures[i+1:]...)
				break
			}
		}
	case captureTargetLayer:
		for i, e := range c.layer.captures {
			if e == c {
				c.layer.captures = append(c.layer.captures[:i], c.layer.captures[i+1:]...)
				break
			}
		}
	}

	d.funcCapture.Destroy(c.backend)

	c.pending = nil
	inflight := c.inflight
	c.inflight = nil
	for _, b := range inflight {
		buf := b.buffer
		d.mu.Unlock()
		UnrefBufferBackend(buf)
		d.mu.Lock()
	}
	c.stamp = 0
}

// SetInfo configures the readback: destination geometry,
// transform, oneshot/periodic mode and frequency.
func (c *Capture) SetInfo(info *CaptureInfo) Error {
	if c == nil || info == nil {
		return ErrInvalidParameter
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcCapture.SetInfo == nil {
		log().Debug("capture set info not implemented")
		return ErrNotImplemented
	}
	return d.funcCapture.SetInfo(c.backend, info)
}

// SetDoneHandler sets the handler run per completed readback.
func (c *Capture) SetDoneHandler(fn CaptureDoneHandler, userData any) Error {
	if c == nil || fn == nil {
		return ErrInvalidParameter
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()
	c.doneFn = fn
	c.doneUserData = userData
	return ErrNone
}

// Attach enqueues a destination buffer, taking one backend ref.
func (c *Capture) Attach(buffer Surface) Error {
	if c == nil || buffer == nil {
		return ErrInvalidParameter
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcCapture.Attach == nil {
		log().Debug("capture attach not implemented")
		return ErrNotImplemented
	}
	if err := d.funcCapture.Attach(c.backend, buffer); err != ErrNone {
		log().Error("capture attach failed")
		return err
	}

	c.nextBufID++
	c.inflight = append(c.inflight, &captureBuf{
		id:     c.nextBufID,
		buffer: RefBufferBackend(buffer),
	})
	return ErrNone
}

// Commit starts the engine. Oneshot mode produces one done for the
// most recently attached buffer; periodic mode rotates through the
// attached buffers at the configured frequency. The rotation is
// the backend's; the frontend releases whichever surface is
// reported done.
func (c *Capture) Commit() Error {
	if c == nil {
		return ErrInvalidParameter
	}
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcCapture.Commit == nil {
		log().Debug("capture commit not implemented")
		return ErrNotImplemented
	}
	return d.funcCapture.Commit(c.backend)
}

// backendCaptureDoneCB enters from the backend on the loop thread
// with the lock held; userData is the owning Capture.
func backendCaptureDoneCB(bc BackendCapture, buffer Surface, userData any) {
	c, ok := userData.(*Capture)
	if !ok || c == nil {
		return
	}
	d := c.d

	var buf *captureBuf
	for _, b := range c.inflight {
		if b.buffer == buffer {
			buf = b
			break
		}
	}
	if buf == nil {
		log().Warnf("capture %p done for unknown buffer", c)
		return
	}

	if d.threadIsRunning() && c.ownerTID != unix.Gettid() {
		if err := d.threadSendDone(threadCBCaptureDone, c.stamp, buf.id); err != ErrNone {
			log().Warn("capture done forward failed")
		}
		return
	}
	c.cbDone(buf.id)
}

// cbDone retires one readback: removes the buffer record, fires
// the done handler with the lock dropped and releases the buffer.
// Lock held.
func (c *Capture) cbDone(id uint64) {
	d := c.d

	var buf *captureBuf
	for i, b := range c.inflight {
		if b.id == id {
			buf = b
			c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
			break
		}
	}
	if buf == nil {
		return
	}

	dumpCaptureBuffer(c, buf.buffer)

	if c.doneFn != nil {
		fn, userData := c.doneFn, c.doneUserData
		d.mu.Unlock()
		fn(c, buf.buffer, userData)
		d.mu.Lock()
	}

	buffer := buf.buffer
	d.mu.Unlock()
	UnrefBufferBackend(buffer)
	d.mu.Lock()
}
