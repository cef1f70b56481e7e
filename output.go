// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"reflect"

	"golang.org/x/sys/unix"
)

// Output represents one physical connector. Outputs are created at
// display init (or when the backend reports a new connector) and
// persist until display deinit; hot-unplug only flips the
// connection status.
type Output struct {
	d *Display

	// stamp is stable across the output's lifetime and unique
	// among live outputs; inter-thread messages carry it instead
	// of a pointer.
	stamp uint64

	caps    OutputCaps
	backend BackendOutput

	pipe        uint32
	currentDPMS DPMS

	registVblankCB bool
	registCommitCB bool
	registChangeCB bool

	layers   []*Layer
	captures []*Capture

	vblankHandlers []*tickHandler
	commitHandlers []*tickHandler

	// Change handlers bucketed by registrant: the main list
	// belongs to the display thread, the sub list to others (the
	// loop-thread vblank engine, the wire server).
	changeHandlersMain []*changeHandler
	changeHandlersSub  []*changeHandler
}

// tickHandler is one outstanding vblank or commit request.
type tickHandler struct {
	id       uint64
	output   *Output
	vblankFn OutputVblankHandler
	commitFn OutputCommitHandler
	userData any
	ownerTID int
}

// changeHandler is one registered connection/DPMS change handler.
type changeHandler struct {
	output   *Output
	fn       OutputChangeHandler
	userData any
	ownerTID int
}

// ModelInfo returns maker, model and name of the connector.
func (o *Output) ModelInfo() (maker, model, name string, err Error) {
	if o == nil {
		return "", "", "", ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Maker, o.caps.Model, o.caps.Name, ErrNone
}

// ConnStatus returns the connection status.
func (o *Output) ConnStatus() (ConnStatus, Error) {
	if o == nil {
		return 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Status, ErrNone
}

// Type returns the connector type.
func (o *Output) Type() (OutputType, Error) {
	if o == nil {
		return 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Type, ErrNone
}

// LayerCount returns the number of hardware planes.
func (o *Output) LayerCount() (int, Error) {
	if o == nil {
		return 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return len(o.layers), ErrNone
}

// GetLayer returns the layer at index.
func (o *Output) GetLayer(index int) (*Layer, Error) {
	if o == nil {
		return nil, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	if index < 0 || index >= len(o.layers) {
		return nil, ErrInvalidParameter
	}
	return o.layers[index], ErrNone
}

// AvailableProperties returns the backend-exposed properties.
func (o *Output) AvailableProperties() ([]Prop, Error) {
	if o == nil {
		return nil, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Props, ErrNone
}

// AvailableModes returns the mode list.
func (o *Output) AvailableModes() ([]Mode, Error) {
	if o == nil {
		return nil, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Modes, ErrNone
}

// AvailableSize returns the acceptable framebuffer-size envelope;
// -1 members are not defined by the backend.
func (o *Output) AvailableSize() (minW, minH, maxW, maxH, preferredAlign int, err Error) {
	if o == nil {
		return 0, 0, 0, 0, 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	c := &o.caps
	return c.MinW, c.MinH, c.MaxW, c.MaxH, c.PreferredAlign, ErrNone
}

// PhysicalSize returns the physical dimensions in millimeters.
func (o *Output) PhysicalSize() (mmWidth, mmHeight uint32, err Error) {
	if o == nil {
		return 0, 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.MmWidth, o.caps.MmHeight, ErrNone
}

// Subpixel returns the subpixel layout.
func (o *Output) Subpixel() (uint32, Error) {
	if o == nil {
		return 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.caps.Subpixel, ErrNone
}

// Pipe returns the output's pipe index; index 0 is primary.
func (o *Output) Pipe() (uint32, Error) {
	if o == nil {
		return 0, ErrInvalidParameter
	}
	o.d.mu.Lock()
	defer o.d.mu.Unlock()
	return o.pipe, ErrNone
}

// SetProperty forwards a property write to the backend.
func (o *Output) SetProperty(id uint32, value Value) Error {
	if o == nil {
		return ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcOutput.SetProperty == nil {
		log().Error("output set property not implemented")
		return ErrNotImplemented
	}
	return d.funcOutput.SetProperty(o.backend, id, value)
}

// GetProperty forwards a property read to the backend.
func (o *Output) GetProperty(id uint32) (Value, Error) {
	if o == nil {
		return Value{}, ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcOutput.GetProperty == nil {
		log().Error("output get property not implemented")
		return Value{}, ErrNotImplemented
	}
	return d.funcOutput.GetProperty(o.backend, id)
}

// SetMode delegates a mode set to the backend. The backend stays
// authoritative for the current mode; nothing is cached here.
func (o *Output) SetMode(mode *Mode) Error {
	if o == nil || mode == nil {
		return ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcOutput.SetMode == nil {
		log().Error("output set mode not implemented")
		return ErrNotImplemented
	}
	return d.funcOutput.SetMode(o.backend, mode)
}

// GetMode returns the current mode from the backend.
func (o *Output) GetMode() (*Mode, Error) {
	if o == nil {
		return nil, ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcOutput.GetMode == nil {
		log().Error("output get mode not implemented")
		return nil, ErrNotImplemented
	}
	return d.funcOutput.GetMode(o.backend)
}

// SetDPMS changes the power state. Values outside the known range
// are clamped; setting the current value is a no-op. On success
// the cached value is updated and the change is broadcast
// synchronously to both change-handler buckets, the sub list first.
func (o *Output) SetDPMS(dpms DPMS) Error {
	if o == nil {
		return ErrInvalidParameter
	}
	if dpms > DPMSOff {
		dpms = DPMSOff
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if o.currentDPMS == dpms {
		return ErrNone
	}
	if d.funcOutput.SetDPMS == nil {
		o.currentDPMS = dpms
		log().Warn("output set dpms not implemented")
		return ErrNone
	}
	err := d.funcOutput.SetDPMS(o.backend, dpms)
	if err == ErrNone {
		o.currentDPMS = dpms
		value := Value{U32: uint32(dpms)}
		o.callChangeHandlers(o.changeHandlersSub, ChangeDPMS, value)
		o.callChangeHandlers(o.changeHandlersMain, ChangeDPMS, value)
	}
	return err
}

// GetDPMS returns the power state, from the backend when it
// implements the query and from the cache otherwise.
func (o *Output) GetDPMS() (DPMS, Error) {
	if o == nil {
		return DPMSOff, ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.funcOutput.GetDPMS == nil {
		return o.currentDPMS, ErrNone
	}
	return d.funcOutput.GetDPMS(o.backend)
}

// AddChangeHandler registers fn for connection and DPMS changes.
// Handlers registered off the display thread go to the sub list
// and fire synchronously on the loop thread; display-thread
// handlers are delivered through the bridge.
//
// A backend without a status entry point yields
// ErrNotImplemented, but the handler is still recorded for
// forward compatibility.
func (o *Output) AddChangeHandler(fn OutputChangeHandler, userData any) Error {
	if o == nil || fn == nil {
		return ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()

	h := &changeHandler{output: o, fn: fn, userData: userData, ownerTID: unix.Gettid()}
	if d.inDisplayThread(h.ownerTID) {
		o.changeHandlersMain = append(o.changeHandlersMain, h)
	} else {
		o.changeHandlersSub = append(o.changeHandlersSub, h)
	}

	if !o.registChangeCB {
		log().Error("output status not implemented")
		return ErrNotImplemented
	}
	return ErrNone
}

// RemoveChangeHandler removes the first handler matching
// (fn, userData) from either bucket.
func (o *Output) RemoveChangeHandler(fn OutputChangeHandler, userData any) {
	if o == nil || fn == nil {
		return
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()

	fp := reflect.ValueOf(fn).Pointer()
	match := func(list []*changeHandler) ([]*changeHandler, bool) {
		for i, h := range list {
			if reflect.ValueOf(h.fn).Pointer() == fp && h.userData == userData {
				return append(list[:i], list[i+1:]...), true
			}
		}
		return list, false
	}
	var ok bool
	if o.changeHandlersMain, ok = match(o.changeHandlersMain); ok {
		return
	}
	o.changeHandlersSub, _ = match(o.changeHandlersSub)
}

// callChangeHandlers invokes a change-handler list, dropping the
// lock around each user callback. Lock held.
func (o *Output) callChangeHandlers(list []*changeHandler, typ ChangeType, value Value) {
	d := o.d
	handlers := make([]*changeHandler, len(list))
	copy(handlers, list)
	for _, h := range handlers {
		d.mu.Unlock()
		h.fn(o, typ, value, h.userData)
		d.mu.Lock()
	}
}

// cbStatusBackend handles a backend-originated status change on
// the loop thread: the sub list fires synchronously (pre-delivery
// hooks like the vblank engine), the main list through the bridge.
// Lock held.
func (o *Output) cbStatusBackend(status ConnStatus) {
	d := o.d
	value := Value{U32: uint32(status)}
	if d.threadIsRunning() && !d.inDisplayThread(unix.Gettid()) {
		o.callChangeHandlers(o.changeHandlersSub, ChangeConnection, value)
		if err := d.threadSendStatus(o.stamp, status); err != ErrNone {
			log().Warn("status forward failed")
		}
		return
	}
	o.callChangeHandlers(o.changeHandlersSub, ChangeConnection, value)
	o.callChangeHandlers(o.changeHandlersMain, ChangeConnection, value)
}

// cbStatus delivers a bridged status change to the main list.
// Lock held.
func (o *Output) cbStatus(status ConnStatus) {
	o.caps.Status = status
	o.callChangeHandlers(o.changeHandlersMain, ChangeConnection, Value{U32: uint32(status)})
}

// WaitVblank asks the backend for a one-shot vblank after interval
// native periods. ErrBadRequest while DPMS is not on;
// ErrInvalidParameter for interval < 1.
func (o *Output) WaitVblank(interval, sync int, fn OutputVblankHandler, userData any) Error {
	if o == nil || fn == nil {
		return ErrInvalidParameter
	}
	if interval < 1 {
		return ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return o.waitVblankInternal(interval, sync, fn, userData)
}

// waitVblankInternal is WaitVblank for callers already holding the
// lock (the vblank engine). The backend's one-shot vblank handler
// is registered lazily on the first wait.
func (o *Output) waitVblankInternal(interval, sync int, fn OutputVblankHandler, userData any) Error {
	d := o.d
	if o.currentDPMS > DPMSOn {
		log().Errorf("output %d dpms %s", o.pipe, o.currentDPMS)
		return ErrBadRequest
	}
	if d.funcOutput.WaitVblank == nil {
		log().Error("output wait vblank not implemented")
		return ErrNotImplemented
	}

	h := &tickHandler{
		id:       d.handlerID(),
		output:   o,
		vblankFn: fn,
		userData: userData,
		ownerTID: unix.Gettid(),
	}
	o.vblankHandlers = append(o.vblankHandlers, h)

	if err := d.funcOutput.WaitVblank(o.backend, interval, sync, h); err != ErrNone {
		o.removeTick(&o.vblankHandlers, h.id)
		return err
	}

	if !o.registVblankCB && d.funcOutput.SetVblankHandler != nil {
		o.registVblankCB = true
		return d.funcOutput.SetVblankHandler(o.backend, backendVblankCB)
	}
	return ErrNone
}

// Commit submits pending layer state atomically. ErrBadRequest
// while DPMS is not on. fn runs once on the registrant's thread
// when the backend reports completion.
func (o *Output) Commit(sync int, fn OutputCommitHandler, userData any) Error {
	if o == nil {
		return ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if o.currentDPMS != DPMSOn {
		log().Errorf("output %d dpms %s", o.pipe, o.currentDPMS)
		return ErrBadRequest
	}
	return o.commitInternal(sync, fn, userData)
}

// commitInternal is Commit without the DPMS gate, shared with the
// buffer-queue acquirable path. Lock held.
func (o *Output) commitInternal(sync int, fn OutputCommitHandler, userData any) Error {
	d := o.d
	if d.funcOutput.Commit == nil {
		log().Error("output commit not implemented")
		return ErrNotImplemented
	}

	h := &tickHandler{
		id:       d.handlerID(),
		output:   o,
		commitFn: fn,
		userData: userData,
		ownerTID: unix.Gettid(),
	}
	o.commitHandlers = append(o.commitHandlers, h)

	if err := d.funcOutput.Commit(o.backend, sync, h); err != ErrNone {
		o.removeTick(&o.commitHandlers, h.id)
		return err
	}

	if !o.registCommitCB && d.funcOutput.SetCommitHandler != nil {
		o.registCommitCB = true
		return d.funcOutput.SetCommitHandler(o.backend, backendCommitCB)
	}
	return ErrNone
}

// CreateCapture creates a capture engine reading back this
// output's composited scanout.
func (o *Output) CreateCapture() (*Capture, Error) {
	if o == nil {
		return nil, ErrInvalidParameter
	}
	d := o.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createCaptureOutput(o)
}

func (o *Output) findTick(list []*tickHandler, id uint64) *tickHandler {
	for _, h := range list {
		if h.id == id {
			return h
		}
	}
	return nil
}

func (o *Output) removeTick(list *[]*tickHandler, id uint64) {
	for i, h := range *list {
		if h.id == id {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

// backendVblankCB enters from the backend on the loop thread with
// the lock held; userData is the tickHandler passed to WaitVblank.
func backendVblankCB(ob BackendOutput, sequence, tvSec, tvUsec uint32, userData any) {
	h, ok := userData.(*tickHandler)
	if !ok || h == nil {
		return
	}
	h.output.dispatchVblank(h, sequence, tvSec, tvUsec)
}

// backendCommitCB enters from the backend on the loop thread with
// the lock held; userData is the tickHandler passed to Commit.
func backendCommitCB(ob BackendOutput, sequence, tvSec, tvUsec uint32, userData any) {
	h, ok := userData.(*tickHandler)
	if !ok || h == nil {
		return
	}
	h.output.dispatchCommit(h, sequence, tvSec, tvUsec)
}

// dispatchVblank routes a completed vblank to its owner thread.
// Lock held.
func (o *Output) dispatchVblank(h *tickHandler, sequence, tvSec, tvUsec uint32) {
	d := o.d
	if d.threadIsRunning() && h.ownerTID != unix.Gettid() {
		if err := d.threadSendTick(threadCBOutputVblank, o.stamp, h.id, sequence, tvSec, tvUsec); err != ErrNone {
			log().Warn("vblank forward failed")
		}
		return
	}
	o.deliverVblank(h, sequence, tvSec, tvUsec)
}

// cbVblank delivers a bridged vblank on the client thread.
// Lock held.
func (o *Output) cbVblank(id uint64, sequence, tvSec, tvUsec uint32) {
	h := o.findTick(o.vblankHandlers, id)
	if h == nil {
		return
	}
	o.deliverVblank(h, sequence, tvSec, tvUsec)
}

// deliverVblank runs the user handler with the lock dropped, then
// retires the record. Lock held.
func (o *Output) deliverVblank(h *tickHandler, sequence, tvSec, tvUsec uint32) {
	d := o.d
	if h.vblankFn != nil {
		d.mu.Unlock()
		h.vblankFn(o, sequence, tvSec, tvUsec, h.userData)
		d.mu.Lock()
	}
	o.removeTick(&o.vblankHandlers, h.id)
}

// dispatchCommit routes a completed commit to its owner thread.
// Lock held.
func (o *Output) dispatchCommit(h *tickHandler, sequence, tvSec, tvUsec uint32) {
	d := o.d
	if d.threadIsRunning() && h.ownerTID != unix.Gettid() {
		if err := d.threadSendTick(threadCBOutputCommit, o.stamp, h.id, sequence, tvSec, tvUsec); err != ErrNone {
			log().Warn("commit forward failed")
		}
		return
	}
	o.deliverCommit(h, sequence, tvSec, tvUsec)
}

// cbCommit delivers a bridged commit on the client thread.
// Lock held.
func (o *Output) cbCommit(id uint64, sequence, tvSec, tvUsec uint32) {
	h := o.findTick(o.commitHandlers, id)
	if h == nil {
		return
	}
	o.deliverCommit(h, sequence, tvSec, tvUsec)
}

// deliverCommit rotates every layer's waiting buffer to showing,
// releasing the previous showing buffer, then runs the user
// handler with the lock dropped. Lock held.
func (o *Output) deliverCommit(h *tickHandler, sequence, tvSec, tvUsec uint32) {
	d := o.d
	for _, l := range o.layers {
		if l.waiting == nil {
			continue
		}
		if l.showing != nil {
			prev := l.showing
			queue := l.queue
			d.mu.Unlock()
			UnrefBufferBackend(prev)
			d.mu.Lock()
			if queue != nil {
				queue.Release(prev)
			}
		}
		l.showing = l.waiting
		l.waiting = nil

		if dbgBuffer.Load() {
			log().Infof("layer %p waiting(nil) showing(%p)", l, l.showing)
		}
	}

	if h.commitFn != nil {
		d.mu.Unlock()
		h.commitFn(o, sequence, tvSec, tvUsec, h.userData)
		d.mu.Lock()
	}
	o.removeTick(&o.commitHandlers, h.id)
}

// destroyInternal tears the output down at display deinit.
// Lock held.
func (o *Output) destroyInternal() {
	for len(o.captures) > 0 {
		o.captures[0].destroyInternal()
	}
	for _, l := range o.layers {
		l.destroyInternal()
	}
	o.layers = nil
	o.vblankHandlers = nil
	o.commitHandlers = nil
	o.changeHandlersMain = nil
	o.changeHandlersSub = nil
}
