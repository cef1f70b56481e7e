// Copyright 2026 Tizen Display Team. All rights reserved.

// Package virtual implements a software backend module: outputs
// with configurable modes whose vblanks are synthesized from a
// monotonic timer. It backs the reference tools and the test
// suite on machines without display hardware.
//
// Importing the package registers the module under the name
// "virtual".
package virtual

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tizenorg/tdm"
)

// ModuleName is the registry name of this backend.
const ModuleName = "virtual"

// OutputConfig describes one synthesized connector.
type OutputConfig struct {
	Name      string
	Model     string
	Type      tdm.OutputType
	Connected bool
	Modes     []tdm.Mode
	Layers    int
}

// DefaultMode is the timing every default output carries.
var DefaultMode = tdm.Mode{
	HDisplay: 1920,
	VDisplay: 1080,
	VRefresh: 60,
	Name:     "1920x1080",
}

// Outputs configures the connectors the next Init creates.
// Change it before tdm.Init.
var Outputs = []OutputConfig{
	{Name: "Virtual-1", Model: "virtual-0", Type: tdm.OutputTypeVirtual, Connected: true,
		Modes: []tdm.Mode{DefaultMode}, Layers: 3},
}

func init() {
	tdm.RegisterModule(&tdm.ModuleData{
		Name:       ModuleName,
		Vendor:     "Tizen",
		ABIVersion: tdm.ABIVersion(1, 2),
		Init:       moduleInit,
		Deinit:     moduleDeinit,
	})
}

// display is the backend-side state behind the BackendData handle.
type display struct {
	mu sync.Mutex

	outputs []*output
	pps     []*pp
	tfd     int

	ppDone []*ppJob

	statusEvents []statusEvent
}

// statusEvent is a queued hot-plug notification, delivered from
// handleEvents so the frontend sees it on the loop thread.
type statusEvent struct {
	o      *output
	status tdm.ConnStatus
}

// current is the display created by the last Init; the test hooks
// below address outputs through it.
var current *display

// SetConnection simulates a hot-plug on output index. The status
// change is delivered through the backend fd, exactly like a
// hardware event.
func SetConnection(index int, status tdm.ConnStatus) {
	dd := current
	if dd == nil || index < 0 || index >= len(dd.outputs) {
		return
	}
	dd.mu.Lock()
	dd.statusEvents = append(dd.statusEvents, statusEvent{dd.outputs[index], status})
	dd.mu.Unlock()

	spec := unix.ItimerSpec{Value: unix.Timespec{Nsec: 1000}}
	unix.TimerfdSettime(dd.tfd, 0, &spec, nil)
}

type output struct {
	dd   *display
	caps tdm.OutputCaps

	mode *tdm.Mode
	dpms tdm.DPMS

	// µs origin of the synthetic vblank timeline
	base uint64

	vblankFn tdm.BackendVblankHandler
	commitFn tdm.BackendCommitHandler
	statusFn tdm.BackendStatusHandler
	statusUD any

	waits   []*tick
	commits []*tick

	layers []*layer
}

// tick is one scheduled vblank or commit completion.
type tick struct {
	dueUS    uint64
	userData any
}

type layer struct {
	o      *output
	caps   tdm.LayerCaps
	info   tdm.LayerInfo
	buffer tdm.Surface
}

type pp struct {
	dd      *display
	info    tdm.PPInfo
	doneFn  tdm.BackendPPDoneHandler
	doneUD  any
	pending []*ppJob
}

// ppJob is one committed conversion, completed on the next timer
// tick in FIFO order.
type ppJob struct {
	p        *pp
	src, dst tdm.Surface
	dueUS    uint64
}

type capture struct {
	dd     *display
	info   tdm.CaptureInfo
	doneFn tdm.BackendCaptureDoneHandler
	doneUD any

	attached []tdm.Surface
	dueUS    uint64
	running  bool
	next     int
}

var captures []*capture

func nowMicros() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint64(ts.Sec)*1000000 + uint64(ts.Nsec)/1000
}

func moduleInit(d *tdm.Display) (tdm.BackendData, tdm.Error) {
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, tdm.ErrOperationFailed
	}
	dd := &display{tfd: tfd}
	current = dd

	base := nowMicros()
	for i, cfg := range Outputs {
		o := &output{
			dd:   dd,
			dpms: tdm.DPMSOff,
			base: base,
		}
		status := tdm.ConnStatusDisconnected
		if cfg.Connected {
			status = tdm.ConnStatusConnected
		}
		o.caps = tdm.OutputCaps{
			Status:   status,
			Type:     cfg.Type,
			TypeID:   uint32(i),
			Maker:    "Tizen",
			Model:    cfg.Model,
			Name:     cfg.Name,
			Modes:    cfg.Modes,
			MmWidth:  476,
			MmHeight: 268,
			MinW:     -1, MinH: -1, MaxW: -1, MaxH: -1,
			PreferredAlign: -1,
		}
		nlayers := cfg.Layers
		if nlayers <= 0 {
			nlayers = 1
		}
		for z := 0; z < nlayers; z++ {
			l := &layer{o: o}
			caps := tdm.LayerCaps{
				Zpos:    z,
				Formats: []tdm.Format{tdm.FormatARGB8888, tdm.FormatXRGB8888},
			}
			switch z {
			case 0:
				caps.Capabilities = tdm.LayerCapabilityPrimary | tdm.LayerCapabilityGraphic
			case nlayers - 1:
				caps.Capabilities = tdm.LayerCapabilityCursor | tdm.LayerCapabilityGraphic
			default:
				caps.Capabilities = tdm.LayerCapabilityOverlay | tdm.LayerCapabilityGraphic
			}
			l.caps = caps
			o.layers = append(o.layers, l)
		}
		dd.outputs = append(dd.outputs, o)
	}

	if err := d.RegisterDisplayFuncs(&tdm.DisplayFuncs{
		GetCapability:        dd.getCapability,
		GetPPCapability:      dd.getPPCapability,
		GetCaptureCapability: dd.getCaptureCapability,
		GetOutputs:           dd.getOutputs,
		GetFD:                dd.getFD,
		HandleEvents:         dd.handleEvents,
		CreatePP:             dd.createPP,
	}); err != tdm.ErrNone {
		unix.Close(tfd)
		return nil, err
	}
	if err := d.RegisterOutputFuncs(&tdm.OutputFuncs{
		GetCapability:    outputGetCapability,
		GetLayers:        outputGetLayers,
		WaitVblank:       outputWaitVblank,
		SetVblankHandler: outputSetVblankHandler,
		Commit:           outputCommit,
		SetCommitHandler: outputSetCommitHandler,
		SetDPMS:          outputSetDPMS,
		GetDPMS:          outputGetDPMS,
		SetMode:          outputSetMode,
		GetMode:          outputGetMode,
		SetStatusHandler: outputSetStatusHandler,
		CreateCapture:    outputCreateCapture,
	}); err != tdm.ErrNone {
		unix.Close(tfd)
		return nil, err
	}
	if err := d.RegisterLayerFuncs(&tdm.LayerFuncs{
		GetCapability: layerGetCapability,
		SetInfo:       layerSetInfo,
		GetInfo:       layerGetInfo,
		SetBuffer:     layerSetBuffer,
		UnsetBuffer:   layerUnsetBuffer,
		SetVideoPos:   layerSetVideoPos,
		CreateCapture: layerCreateCapture,
	}); err != tdm.ErrNone {
		unix.Close(tfd)
		return nil, err
	}
	if err := d.RegisterPPFuncs(&tdm.PPFuncs{
		Destroy:        ppDestroy,
		SetInfo:        ppSetInfo,
		Attach:         ppAttach,
		Commit:         ppCommit,
		SetDoneHandler: ppSetDoneHandler,
	}); err != tdm.ErrNone {
		unix.Close(tfd)
		return nil, err
	}
	if err := d.RegisterCaptureFuncs(&tdm.CaptureFuncs{
		Destroy:        captureDestroy,
		SetInfo:        captureSetInfo,
		Attach:         captureAttach,
		Commit:         captureCommit,
		SetDoneHandler: captureSetDoneHandler,
	}); err != tdm.ErrNone {
		unix.Close(tfd)
		return nil, err
	}

	return dd, tdm.ErrNone
}

func moduleDeinit(bdata tdm.BackendData) {
	dd, ok := bdata.(*display)
	if !ok || dd == nil {
		return
	}
	unix.Close(dd.tfd)
	dd.outputs = nil
	captures = nil
	if current == dd {
		current = nil
	}
}

func (dd *display) getCapability(tdm.BackendData) (tdm.DisplayCaps, tdm.Error) {
	return tdm.DisplayCaps{MaxLayerCount: -1}, tdm.ErrNone
}

func (dd *display) getPPCapability(tdm.BackendData) (tdm.PPCaps, tdm.Error) {
	return tdm.PPCaps{
		Formats: []tdm.Format{tdm.FormatARGB8888, tdm.FormatXRGB8888, tdm.FormatNV12},
		MinW:    -1, MinH: -1, MaxW: -1, MaxH: -1, PreferredAlign: -1,
		MaxAttachCount: 8,
	}, tdm.ErrNone
}

func (dd *display) getCaptureCapability(tdm.BackendData) (tdm.CaptureCaps, tdm.Error) {
	return tdm.CaptureCaps{
		Formats: []tdm.Format{tdm.FormatARGB8888, tdm.FormatXRGB8888},
		MinW:    -1, MinH: -1, MaxW: -1, MaxH: -1, PreferredAlign: -1,
	}, tdm.ErrNone
}

func (dd *display) getOutputs(tdm.BackendData) ([]tdm.BackendOutput, tdm.Error) {
	outs := make([]tdm.BackendOutput, len(dd.outputs))
	for i, o := range dd.outputs {
		outs[i] = o
	}
	return outs, tdm.ErrNone
}

func (dd *display) getFD(tdm.BackendData) (int, tdm.Error) {
	return dd.tfd, tdm.ErrNone
}

func (dd *display) createPP(tdm.BackendData) (tdm.BackendPP, tdm.Error) {
	p := &pp{dd: dd}
	dd.pps = append(dd.pps, p)
	return p, tdm.ErrNone
}

// period returns the output's vblank period in µs.
func (o *output) period() uint64 {
	refresh := uint64(60)
	if o.mode != nil && o.mode.VRefresh > 0 {
		refresh = uint64(o.mode.VRefresh)
	} else if len(o.caps.Modes) > 0 && o.caps.Modes[0].VRefresh > 0 {
		refresh = uint64(o.caps.Modes[0].VRefresh)
	}
	return 1000000 / refresh
}

// nextTick returns the µs timestamp of the interval-th vblank
// boundary after now; a boundary falling exactly on now is not
// counted.
func (o *output) nextTick(now uint64, interval int) uint64 {
	p := o.period()
	elapsed := now - o.base
	k := elapsed/p + 1
	return o.base + (k+uint64(interval-1))*p
}

// rearm programs the shared timer for the earliest scheduled
// event.
func (dd *display) rearm() {
	now := nowMicros()
	var earliest uint64
	for _, o := range dd.outputs {
		for _, t := range o.waits {
			if earliest == 0 || t.dueUS < earliest {
				earliest = t.dueUS
			}
		}
		for _, t := range o.commits {
			if earliest == 0 || t.dueUS < earliest {
				earliest = t.dueUS
			}
		}
	}
	for _, j := range dd.ppDone {
		if earliest == 0 || j.dueUS < earliest {
			earliest = j.dueUS
		}
	}
	for _, c := range captures {
		if c.running && (earliest == 0 || c.dueUS < earliest) {
			earliest = c.dueUS
		}
	}
	if earliest == 0 {
		return
	}
	delta := uint64(1)
	if earliest > now {
		delta = earliest - now
	}
	spec := unix.ItimerSpec{
		Value: unix.Timespec{
			Sec:  int64(delta / 1000000),
			Nsec: int64(delta%1000000) * 1000,
		},
	}
	unix.TimerfdSettime(dd.tfd, 0, &spec, nil)
}

// handleEvents drains the timer and fires everything due. The
// frontend calls it on the loop thread with the global lock held,
// which is the contract backend callbacks expect.
func (dd *display) handleEvents(tdm.BackendData) tdm.Error {
	var buf [8]byte
	unix.Read(dd.tfd, buf[:])

	dd.mu.Lock()
	events := dd.statusEvents
	dd.statusEvents = nil
	dd.mu.Unlock()
	for _, ev := range events {
		ev.o.caps.Status = ev.status
		if ev.o.statusFn != nil {
			ev.o.statusFn(ev.o, ev.status, ev.o.statusUD)
		}
	}

	now := nowMicros()
	for _, o := range dd.outputs {
		p := o.period()

		var laterW []*tick
		for _, t := range o.waits {
			if t.dueUS > now {
				laterW = append(laterW, t)
				continue
			}
			seq := uint32((t.dueUS - o.base) / p)
			if o.vblankFn != nil {
				o.vblankFn(o, seq, uint32(t.dueUS/1000000), uint32(t.dueUS%1000000), t.userData)
			}
		}
		o.waits = laterW

		var laterC []*tick
		for _, t := range o.commits {
			if t.dueUS > now {
				laterC = append(laterC, t)
				continue
			}
			seq := uint32((t.dueUS - o.base) / p)
			if o.commitFn != nil {
				o.commitFn(o, seq, uint32(t.dueUS/1000000), uint32(t.dueUS%1000000), t.userData)
			}
		}
		o.commits = laterC
	}

	var laterJ []*ppJob
	for _, j := range dd.ppDone {
		if j.dueUS > now {
			laterJ = append(laterJ, j)
			continue
		}
		if j.p.doneFn != nil {
			j.p.doneFn(j.p, j.src, j.dst, j.p.doneUD)
		}
	}
	dd.ppDone = laterJ

	for _, c := range captures {
		if !c.running || c.dueUS > now || len(c.attached) == 0 {
			continue
		}
		buf := c.attached[c.next%len(c.attached)]
		if c.info.OneshotMode {
			buf = c.attached[len(c.attached)-1]
			c.running = false
		} else {
			c.next++
			freq := c.info.Frequency
			if freq == 0 {
				freq = 60
			}
			c.dueUS = now + 1000000/uint64(freq)
		}
		if c.doneFn != nil {
			c.doneFn(c, buf, c.doneUD)
		}
	}

	dd.rearm()
	return tdm.ErrNone
}

func outputGetCapability(bo tdm.BackendOutput) (tdm.OutputCaps, tdm.Error) {
	o := bo.(*output)
	return o.caps, tdm.ErrNone
}

func outputGetLayers(bo tdm.BackendOutput) ([]tdm.BackendLayer, tdm.Error) {
	o := bo.(*output)
	ls := make([]tdm.BackendLayer, len(o.layers))
	for i, l := range o.layers {
		ls[i] = l
	}
	return ls, tdm.ErrNone
}

func outputWaitVblank(bo tdm.BackendOutput, interval, sync int, userData any) tdm.Error {
	o := bo.(*output)
	if interval < 1 {
		return tdm.ErrInvalidParameter
	}
	o.waits = append(o.waits, &tick{
		dueUS:    o.nextTick(nowMicros(), interval),
		userData: userData,
	})
	o.dd.rearm()
	return tdm.ErrNone
}

func outputSetVblankHandler(bo tdm.BackendOutput, fn tdm.BackendVblankHandler) tdm.Error {
	bo.(*output).vblankFn = fn
	return tdm.ErrNone
}

func outputCommit(bo tdm.BackendOutput, sync int, userData any) tdm.Error {
	o := bo.(*output)
	o.commits = append(o.commits, &tick{
		dueUS:    o.nextTick(nowMicros(), 1),
		userData: userData,
	})
	o.dd.rearm()
	return tdm.ErrNone
}

func outputSetCommitHandler(bo tdm.BackendOutput, fn tdm.BackendCommitHandler) tdm.Error {
	bo.(*output).commitFn = fn
	return tdm.ErrNone
}

func outputSetDPMS(bo tdm.BackendOutput, dpms tdm.DPMS) tdm.Error {
	bo.(*output).dpms = dpms
	return tdm.ErrNone
}

func outputGetDPMS(bo tdm.BackendOutput) (tdm.DPMS, tdm.Error) {
	return bo.(*output).dpms, tdm.ErrNone
}

func outputSetMode(bo tdm.BackendOutput, mode *tdm.Mode) tdm.Error {
	o := bo.(*output)
	o.mode = mode
	o.caps.Status = tdm.ConnStatusModeSetted
	return tdm.ErrNone
}

func outputGetMode(bo tdm.BackendOutput) (*tdm.Mode, tdm.Error) {
	o := bo.(*output)
	if o.mode != nil {
		return o.mode, tdm.ErrNone
	}
	if len(o.caps.Modes) > 0 {
		return &o.caps.Modes[0], tdm.ErrNone
	}
	return nil, tdm.ErrOperationFailed
}

func outputSetStatusHandler(bo tdm.BackendOutput, fn tdm.BackendStatusHandler, userData any) tdm.Error {
	o := bo.(*output)
	o.statusFn = fn
	o.statusUD = userData
	return tdm.ErrNone
}

func outputCreateCapture(bo tdm.BackendOutput) (tdm.BackendCapture, tdm.Error) {
	o := bo.(*output)
	c := &capture{dd: o.dd}
	captures = append(captures, c)
	return c, tdm.ErrNone
}

func layerGetCapability(bl tdm.BackendLayer) (tdm.LayerCaps, tdm.Error) {
	return bl.(*layer).caps, tdm.ErrNone
}

func layerSetInfo(bl tdm.BackendLayer, info *tdm.LayerInfo) tdm.Error {
	bl.(*layer).info = *info
	return tdm.ErrNone
}

func layerGetInfo(bl tdm.BackendLayer) (*tdm.LayerInfo, tdm.Error) {
	info := bl.(*layer).info
	return &info, tdm.ErrNone
}

func layerSetBuffer(bl tdm.BackendLayer, buffer tdm.Surface) tdm.Error {
	bl.(*layer).buffer = buffer
	return tdm.ErrNone
}

func layerUnsetBuffer(bl tdm.BackendLayer) tdm.Error {
	bl.(*layer).buffer = nil
	return tdm.ErrNone
}

func layerSetVideoPos(bl tdm.BackendLayer, zpos int) tdm.Error {
	l := bl.(*layer)
	if l.caps.Capabilities&tdm.LayerCapabilityVideo == 0 {
		return tdm.ErrInvalidParameter
	}
	l.caps.Zpos = zpos
	return tdm.ErrNone
}

func layerCreateCapture(bl tdm.BackendLayer) (tdm.BackendCapture, tdm.Error) {
	l := bl.(*layer)
	c := &capture{dd: l.o.dd}
	captures = append(captures, c)
	return c, tdm.ErrNone
}

func ppDestroy(bpp tdm.BackendPP) {
	p := bpp.(*pp)
	dd := p.dd
	for i, e := range dd.pps {
		if e == p {
			dd.pps = append(dd.pps[:i], dd.pps[i+1:]...)
			break
		}
	}
	var jobs []*ppJob
	for _, j := range dd.ppDone {
		if j.p != p {
			jobs = append(jobs, j)
		}
	}
	dd.ppDone = jobs
}

func ppSetInfo(bpp tdm.BackendPP, info *tdm.PPInfo) tdm.Error {
	bpp.(*pp).info = *info
	return tdm.ErrNone
}

func ppAttach(bpp tdm.BackendPP, src, dst tdm.Surface) tdm.Error {
	p := bpp.(*pp)
	p.pending = append(p.pending, &ppJob{p: p, src: src, dst: dst})
	return tdm.ErrNone
}

// ppCommit schedules a done per attached pair, FIFO, on the next
// timer ticks.
func ppCommit(bpp tdm.BackendPP) tdm.Error {
	p := bpp.(*pp)
	dd := p.dd
	due := nowMicros() + 1000
	for i, j := range p.pending {
		j.dueUS = due + uint64(i)
		dd.ppDone = append(dd.ppDone, j)
	}
	p.pending = nil
	dd.rearm()
	return tdm.ErrNone
}

func ppSetDoneHandler(bpp tdm.BackendPP, fn tdm.BackendPPDoneHandler, userData any) tdm.Error {
	p := bpp.(*pp)
	p.doneFn = fn
	p.doneUD = userData
	return tdm.ErrNone
}

func captureDestroy(bc tdm.BackendCapture) {
	c := bc.(*capture)
	for i, e := range captures {
		if e == c {
			captures = append(captures[:i], captures[i+1:]...)
			break
		}
	}
}

func captureSetInfo(bc tdm.BackendCapture, info *tdm.CaptureInfo) tdm.Error {
	bc.(*capture).info = *info
	return tdm.ErrNone
}

func captureAttach(bc tdm.BackendCapture, buffer tdm.Surface) tdm.Error {
	c := bc.(*capture)
	c.attached = append(c.attached, buffer)
	return tdm.ErrNone
}

func captureCommit(bc tdm.BackendCapture) tdm.Error {
	c := bc.(*capture)
	c.running = true
	c.dueUS = nowMicros() + 1000
	c.dd.rearm()
	return tdm.ErrNone
}

func captureSetDoneHandler(bc tdm.BackendCapture, fn tdm.BackendCaptureDoneHandler, userData any) tdm.Error {
	c := bc.(*capture)
	c.doneFn = fn
	c.doneUD = userData
	return tdm.ErrNone
}
