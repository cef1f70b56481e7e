// Copyright 2026 Tizen Display Team. All rights reserved.

// Package tdm is a display manager frontend: it mediates between a
// display server and display hardware driven by a vendor backend
// module. The compositor drives outputs (connected displays),
// layers (hardware composition planes), memory-to-memory
// post-processors and capture engines through this package, while
// the backend module translates to the actual hardware.
//
// The frontend is an explicit lifecycle: Init returns the
// process-wide Display (reference-counted, so nested inits
// compose), and Deinit tears it down when the count drops to zero.
package tdm

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Display is the process-wide frontend context. It owns the
// backend handle and function tables, the aggregate capabilities,
// and the collections of outputs, post-processors and captures.
type Display struct {
	// mu is the global lock: held by exactly one thread at a time,
	// held across every backend call, dropped around every user
	// callback. Not recursive.
	mu sync.Mutex

	initCount int

	moduleData *ModuleData
	bdata      BackendData

	capabilities DisplayCapability
	funcDisplay  DisplayFuncs
	funcOutput   OutputFuncs
	funcLayer    LayerFuncs
	funcPP       PPFuncs
	funcCapture  CaptureFuncs

	capsDisplay DisplayCaps
	capsPP      PPCaps
	capsCapture CaptureCaps

	outputs  []*Output
	pps      []*PP
	captures []*Capture
	vblanks  []*Vblank

	// backend outputs in presentation order, fixed at init
	backendOrder []BackendOutput

	loop   *eventLoop
	thread *privThread
	server *server

	nextHandlerID uint64
}

var (
	gLock    sync.Mutex
	gDisplay *Display
)

// getTimeMillis returns the monotonic clock in milliseconds.
func getTimeMillis() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1000000
}

// getTimeMicros returns the monotonic clock in microseconds.
func getTimeMicros() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint64(ts.Sec)*1000000 + uint64(ts.Nsec)/1000
}

// Init initializes the process-wide display, loading the backend
// module, negotiating capabilities and spawning the event thread.
// Nested calls return the same Display; each must be paired with
// Deinit.
func Init() (*Display, Error) {
	gLock.Lock()
	defer gLock.Unlock()

	if gDisplay != nil {
		gDisplay.initCount++
		return gDisplay, ErrNone
	}

	cfg := loadConfig()
	cfg.apply()

	d := &Display{initCount: 1}

	loop, err := newEventLoop(d)
	if err != ErrNone {
		return nil, err
	}
	d.loop = loop

	if err := serverInit(d); err != ErrNone {
		log().Error("server init failed")
		d.loop.deinit()
		return nil, ErrOperationFailed
	}

	if err := d.threadInit(); err != ErrNone {
		log().Error("thread init failed")
		d.serverDeinit()
		d.loop.deinit()
		return nil, ErrOperationFailed
	}

	if err := d.loadModule(); err != ErrNone {
		d.threadDeinit()
		d.serverDeinit()
		d.loop.deinit()
		return nil, err
	}

	d.mu.Lock()
	if err := d.updateInternal(false); err != ErrNone {
		d.mu.Unlock()
		d.unloadModule()
		d.threadDeinit()
		d.serverDeinit()
		d.loop.deinit()
		return nil, err
	}
	d.loop.createBackendSource()
	d.mu.Unlock()

	gDisplay = d
	return d, ErrNone
}

// Deinit drops one init reference and destroys the display when
// the count reaches zero: the worker is cancelled and joined, the
// wire server and event loop torn down, then the backend deinited.
func Deinit(d *Display) {
	if d == nil {
		return
	}
	gLock.Lock()
	defer gLock.Unlock()

	d.initCount--
	if d.initCount > 0 {
		return
	}

	d.threadDeinit()

	d.mu.Lock()
	d.serverDeinit()
	d.destroyObjects()
	d.loop.deinit()
	d.mu.Unlock()

	d.unloadModule()
	SetEnvFD(EnvFDName, -1)
	gDisplay = nil

	log().Info("deinit done")
}

// loadModule selects a registered backend module, validates it and
// runs its Init. The module's Init registers the function tables;
// the lock is not held across it so those register calls can take
// it.
func (d *Display) loadModule() Error {
	m, err := lookupModule()
	if err != ErrNone {
		return err
	}
	if err := checkModule(m); err != ErrNone {
		return err
	}
	d.moduleData = m

	bdata, err := m.Init(d)
	if err != ErrNone {
		log().Errorf("module %q init failed", m.Name)
		d.moduleData = nil
		return ErrBadModule
	}
	d.bdata = bdata

	d.mu.Lock()
	err = d.checkBackendFuncs()
	d.mu.Unlock()
	if err != ErrNone {
		m.Deinit(d.bdata)
		d.bdata = nil
		d.moduleData = nil
		return err
	}

	log().Infof("module %q loaded", m.Name)
	return ErrNone
}

func (d *Display) unloadModule() {
	if d.moduleData != nil {
		d.moduleData.Deinit(d.bdata)
	}
	d.bdata = nil
	d.moduleData = nil
}

// destroyObjects releases every frontend object. Lock held.
func (d *Display) destroyObjects() {
	for len(d.captures) > 0 {
		d.captures[0].destroyInternal()
	}
	for len(d.pps) > 0 {
		d.pps[0].destroyInternal()
	}
	for _, o := range d.outputs {
		o.destroyInternal()
	}
	d.outputs = nil
}

// newStamp allocates a stamp unique among live objects: the
// monotonic millisecond clock, bumped on collision.
func (d *Display) newStamp(taken func(uint64) bool) uint64 {
	s := getTimeMillis()
	if s == 0 {
		s = 1
	}
	for taken(s) {
		s++
	}
	return s
}

func (d *Display) findOutputStamp(stamp uint64) *Output {
	for _, o := range d.outputs {
		if o.stamp == stamp {
			return o
		}
	}
	return nil
}

func (d *Display) findPPStamp(stamp uint64) *PP {
	for _, pp := range d.pps {
		if pp.stamp == stamp {
			return pp
		}
	}
	return nil
}

func (d *Display) findCaptureStamp(stamp uint64) *Capture {
	for _, c := range d.captures {
		if c.stamp == stamp {
			return c
		}
	}
	return nil
}

// handlerID returns the next handler-record id. Lock held.
func (d *Display) handlerID() uint64 {
	d.nextHandlerID++
	return d.nextHandlerID
}

// updateInternal queries the backend capability snapshots and
// (re)builds the output graph. Lock held.
func (d *Display) updateInternal(onlyDisplay bool) Error {
	if !onlyDisplay {
		if d.capabilities&DisplayCapabilityPP != 0 {
			caps, err := d.funcDisplay.GetPPCapability(d.bdata)
			if err != ErrNone {
				log().Error("pp capability query failed")
				return ErrBadModule
			}
			d.capsPP = caps
		}
		if d.capabilities&DisplayCapabilityCapture != 0 {
			caps, err := d.funcDisplay.GetCaptureCapability(d.bdata)
			if err != ErrNone {
				log().Error("capture capability query failed")
				return ErrBadModule
			}
			d.capsCapture = caps
		}
	}

	backends, err := d.orderedOutputs()
	if err != ErrNone {
		return err
	}
	for i, ob := range backends {
		if err := d.updateOutput(ob, uint32(i)); err != ErrNone {
			return err
		}
	}
	return ErrNone
}

// Update re-enumerates outputs from the backend, refreshing the
// cached capability snapshots after a hot-plug. The presentation
// order computed at init is kept.
func (d *Display) Update() Error {
	if d == nil {
		return ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateInternal(true)
}

// orderedOutputs returns the backend outputs with the primary
// output swapped into index 0. The order is decided only once, at
// init.
func (d *Display) orderedOutputs() ([]BackendOutput, Error) {
	if d.backendOrder != nil {
		outputs, err := d.funcDisplay.GetOutputs(d.bdata)
		if err != ErrNone {
			return nil, err
		}
		for _, ob := range outputs {
			known := false
			for _, e := range d.backendOrder {
				if e == ob {
					known = true
					break
				}
			}
			if !known {
				d.backendOrder = append(d.backendOrder, ob)
			}
		}
		return d.backendOrder, ErrNone
	}
	outputs, err := d.funcDisplay.GetOutputs(d.bdata)
	if err != ErrNone {
		return nil, err
	}
	d.backendOrder = outputs
	if len(outputs) <= 1 {
		return outputs, ErrNone
	}

	type candidate struct {
		index int
		found bool
	}
	var dsi, lvds, hdmia, hdmib candidate
	connected := 0

	for i, ob := range outputs {
		caps, err := d.funcOutput.GetCapability(ob)
		if err != ErrNone {
			log().Error("output capability query failed")
			return nil, ErrBadModule
		}
		if caps.Status != ConnStatusConnected {
			continue
		}
		connected++
		switch caps.Type {
		case OutputTypeDSI:
			dsi = candidate{i, true}
		case OutputTypeLVDS:
			lvds = candidate{i, true}
		case OutputTypeHDMIA:
			hdmia = candidate{i, true}
		case OutputTypeHDMIB:
			hdmib = candidate{i, true}
		}
	}

	// An internal panel cannot appear after boot, so without any
	// connected output HDMI is the best guess for the main
	// display; with connected outputs the internal panel wins.
	var order []candidate
	if connected == 0 {
		for i, ob := range outputs {
			caps, err := d.funcOutput.GetCapability(ob)
			if err != ErrNone {
				return nil, ErrBadModule
			}
			switch caps.Type {
			case OutputTypeHDMIA:
				hdmia = candidate{i, true}
			case OutputTypeHDMIB:
				hdmib = candidate{i, true}
			case OutputTypeDSI:
				dsi = candidate{i, true}
			case OutputTypeLVDS:
				lvds = candidate{i, true}
			}
		}
		order = []candidate{hdmia, hdmib, dsi, lvds}
	} else {
		order = []candidate{dsi, lvds, hdmia, hdmib}
	}

	for _, c := range order {
		if c.found {
			outputs[0], outputs[c.index] = outputs[c.index], outputs[0]
			break
		}
	}
	return outputs, ErrNone
}

// updateOutput creates or refreshes the frontend Output for one
// backend output. Outputs persist until display deinit; a
// hot-unplugged output merely reports disconnected. Lock held.
func (d *Display) updateOutput(ob BackendOutput, pipe uint32) Error {
	caps, err := d.funcOutput.GetCapability(ob)
	if err != ErrNone {
		log().Error("output capability query failed")
		return ErrBadModule
	}

	var o *Output
	for _, e := range d.outputs {
		if e.backend == ob {
			o = e
			break
		}
	}
	if o == nil {
		o = &Output{
			d:           d,
			backend:     ob,
			pipe:        pipe,
			currentDPMS: DPMSOff,
		}
		o.stamp = d.newStamp(func(s uint64) bool { return d.findOutputStamp(s) != nil })
		d.outputs = append(d.outputs, o)

		if d.funcOutput.SetStatusHandler != nil {
			o.registChangeCB = true
			d.funcOutput.SetStatusHandler(ob, backendStatusCB, o)
		}
	}
	o.caps = caps

	layers, err := d.funcOutput.GetLayers(ob)
	if err != ErrNone {
		log().Error("layer enumeration failed")
		return ErrBadModule
	}
	if len(o.layers) == 0 {
		for _, lb := range layers {
			l := &Layer{d: d, output: o, backend: lb, usable: true}
			o.layers = append(o.layers, l)
		}
	}
	for i, l := range o.layers {
		if i >= len(layers) {
			break
		}
		lcaps, err := d.funcLayer.GetCapability(layers[i])
		if err != ErrNone {
			log().Error("layer capability query failed")
			return ErrBadModule
		}
		l.caps = lcaps
	}
	return ErrNone
}

// backendStatusCB is the status entry point handed to backends.
// It runs on the loop thread with the lock held; userData is the
// owning Output.
func backendStatusCB(ob BackendOutput, status ConnStatus, userData any) {
	o, ok := userData.(*Output)
	if !ok || o == nil {
		return
	}
	o.caps.Status = status
	o.cbStatusBackend(status)
}
