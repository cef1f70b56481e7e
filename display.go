// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"golang.org/x/sys/unix"
)

// Capabilities returns the display-wide capability bits.
func (d *Display) Capabilities() (DisplayCapability, Error) {
	if d == nil {
		return 0, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capabilities, ErrNone
}

// PPCapabilities returns the backend's post-processor capability
// snapshot. ErrNoCapability when the backend has no PP.
func (d *Display) PPCapabilities() (PPCaps, Error) {
	if d == nil {
		return PPCaps{}, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capabilities&DisplayCapabilityPP == 0 {
		return PPCaps{}, ErrNoCapability
	}
	return d.capsPP, ErrNone
}

// CaptureCapabilities returns the backend's capture capability
// snapshot. ErrNoCapability when the backend has no capture.
func (d *Display) CaptureCapabilities() (CaptureCaps, Error) {
	if d == nil {
		return CaptureCaps{}, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capabilities&DisplayCapabilityCapture == 0 {
		return CaptureCaps{}, ErrNoCapability
	}
	return d.capsCapture, ErrNone
}

// OutputCount returns the number of outputs.
func (d *Display) OutputCount() (int, Error) {
	if d == nil {
		return 0, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outputs), ErrNone
}

// GetOutput returns the output at index. Index 0 is the primary
// output per the init-time ordering.
func (d *Display) GetOutput(index int) (*Output, Error) {
	if d == nil {
		return nil, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.outputs) {
		return nil, ErrInvalidParameter
	}
	return d.outputs[index], ErrNone
}

// FD returns the fd the compositor polls for events: the bridge
// pipe in threaded mode, the loop fd otherwise.
func (d *Display) FD() (int, Error) {
	if d == nil {
		return -1, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.threadIsRunning() {
		return d.threadFD(), ErrNone
	}
	return d.loop.fdValue(), ErrNone
}

// HandleEvents blocks in poll on the display fd, then dispatches
// pending events. User handlers registered by the calling thread
// run here, under the lock-dropped discipline.
func (d *Display) HandleEvents() Error {
	if d == nil {
		return ErrInvalidParameter
	}
	fd, err := d.FD()
	if err != ErrNone || fd < 0 {
		return err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if dbgThread.Load() {
		log().Infof("fd %d polling in", fd)
	}
	for {
		if _, perr := unix.Poll(fds, -1); perr != nil {
			if perr == unix.EINTR || perr == unix.EBUSY {
				continue
			}
			log().Errorf("poll: %v", perr)
			return ErrOperationFailed
		}
		break
	}
	if dbgThread.Load() {
		log().Infof("fd %d polling out", fd)
	}

	return d.dispatchPending()
}

// dispatchPending dispatches whatever is ready without blocking,
// then pushes queued wire-server events out.
func (d *Display) dispatchPending() Error {
	if d.threadIsRunning() {
		return d.threadHandleCB()
	}
	err := d.loop.dispatch()
	d.mu.Lock()
	if d.server != nil {
		d.server.flush()
	}
	d.mu.Unlock()
	return err
}

// CreatePP creates a memory-to-memory post-processor.
func (d *Display) CreatePP() (*PP, Error) {
	if d == nil {
		return nil, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createPPInternal()
}
