// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"math"

	"golang.org/x/sys/unix"
)

// Vblank is a per-client tick source aligned to an output: a
// compositor's intent to receive periodic wake-ups at a target
// fps, an arbitrary integer divisor or free sub-sampling of the
// native refresh, with an optional per-client offset.
//
// Ticks are hardware-synchronized when DPMS is on and the refresh
// is an integer multiple of the fps; otherwise a software timer
// aligned to the last known hardware tick drives them.
type Vblank struct {
	d      *Display
	output *Output

	dpms     DPMS
	vrefresh uint32

	checkHWorSW bool
	fps         uint32
	offset      int
	enableFake  bool
	sync        bool

	vblankGap float64
	lastSeq   uint32
	lastSec   uint32
	lastUsec  uint32

	hwVblankGap float64
	hwEnable    bool
	hwQuotient  uint32
	hwWaits     []*vblankWait

	swTimer   *EventSource
	swPending []*vblankWait
	swWaits   []*vblankWait

	changeCB OutputChangeHandler

	destroyed bool
}

// vblankWait is one outstanding wait request.
type vblankWait struct {
	v *Vblank

	reqSec   uint32
	reqUsec  uint32
	interval uint32

	fn       VblankHandler
	userData any

	// target can be zero while the timeline is unseeded; the
	// first hardware tick fills it in.
	targetSec        uint32
	targetUsec       uint32
	targetSeq        uint32
	targetHWInterval int

	removed bool
	done    bool
}

// CreateVblank creates a tick source over output. The target fps
// defaults to the output's refresh rate.
func (d *Display) CreateVblank(output *Output) (*Vblank, Error) {
	if d == nil || output == nil {
		return nil, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcOutput.GetMode == nil {
		return nil, ErrOperationFailed
	}
	mode, err := d.funcOutput.GetMode(output.backend)
	if err != ErrNone || mode == nil || mode.VRefresh == 0 {
		log().Error("no mode")
		return nil, ErrOperationFailed
	}

	v := &Vblank{
		d:           d,
		output:      output,
		dpms:        output.currentDPMS,
		vrefresh:    mode.VRefresh,
		checkHWorSW: true,
		fps:         mode.VRefresh,
		hwVblankGap: 1000000 / float64(mode.VRefresh),
	}

	// Pre-delivery hook: track DPMS and connection ahead of the
	// bridged main-thread delivery.
	v.changeCB = func(o *Output, typ ChangeType, value Value, userData any) {
		v.onOutputChange(typ, value)
	}
	h := &changeHandler{output: output, fn: v.changeCB, userData: v, ownerTID: unix.Gettid()}
	if d.inDisplayThread(h.ownerTID) {
		output.changeHandlersMain = append(output.changeHandlersMain, h)
	} else {
		output.changeHandlersSub = append(output.changeHandlersSub, h)
	}

	d.vblanks = append(d.vblanks, v)

	log().Debugf("vblank %p created, vrefresh %d dpms %s", v, v.vrefresh, v.dpms)
	return v, ErrNone
}

// Destroy ends the tick source. Outstanding waits are discarded
// without their handlers running.
func (v *Vblank) Destroy() {
	if v == nil {
		return
	}
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()

	v.destroyed = true
	for i, e := range d.vblanks {
		if e == v {
			d.vblanks = append(d.vblanks[:i], d.vblanks[i+1:]...)
			break
		}
	}

	if v.swTimer != nil {
		v.swTimer.Remove()
		v.swTimer = nil
	}

	v.removeOwnChangeHandler()

	v.freeHWWaits(ErrNone, false)
	for _, w := range v.swPending {
		w.removed = true
	}
	v.swPending = nil
	for _, w := range v.swWaits {
		w.removed = true
	}
	v.swWaits = nil

	log().Debugf("vblank %p destroyed", v)
}

// removeOwnChangeHandler drops the engine's pre-delivery hook from
// either handler bucket. Lock held.
func (v *Vblank) removeOwnChangeHandler() {
	o := v.output
	filter := func(list []*changeHandler) []*changeHandler {
		for i, h := range list {
			if h.userData == any(v) {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	}
	o.changeHandlersMain = filter(o.changeHandlersMain)
	o.changeHandlersSub = filter(o.changeHandlersSub)
}

// SetFPS sets the target tick rate, 1..refresh. The HW/SW decision
// is recomputed on the next wait.
func (v *Vblank) SetFPS(fps uint32) Error {
	if v == nil || fps == 0 {
		return ErrInvalidParameter
	}
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if fps > v.vrefresh {
		return ErrInvalidParameter
	}
	if v.fps == fps {
		return ErrNone
	}
	v.fps = fps
	v.checkHWorSW = true
	log().Debugf("vblank %p fps %d", v, fps)
	return ErrNone
}

// FPS returns the target tick rate.
func (v *Vblank) FPS() uint32 {
	if v == nil {
		return 0
	}
	v.d.mu.Lock()
	defer v.d.mu.Unlock()
	return v.fps
}

// SetOffset shifts delivered ticks by offset milliseconds.
func (v *Vblank) SetOffset(offset int) Error {
	if v == nil {
		return ErrInvalidParameter
	}
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if v.offset == offset {
		return ErrNone
	}
	v.offset = offset
	v.checkHWorSW = true
	log().Debugf("vblank %p offset %d", v, offset)
	return ErrNone
}

// SetEnableFake keeps ticks flowing from the software timer while
// DPMS is off.
func (v *Vblank) SetEnableFake(enable bool) Error {
	if v == nil {
		return ErrInvalidParameter
	}
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()

	v.enableFake = enable
	log().Debugf("vblank %p enable_fake %v", v, enable)
	return ErrNone
}

// SetSync makes Wait block until the handler has run, driving the
// dispatch loop internally. Async is the default.
func (v *Vblank) SetSync(sync bool) Error {
	if v == nil {
		return ErrInvalidParameter
	}
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()
	v.sync = sync
	return ErrNone
}

// onOutputChange is the engine's pre-delivery hook.
// Called without the lock held (change handlers run unlocked).
func (v *Vblank) onOutputChange(typ ChangeType, value Value) {
	d := v.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if v.destroyed {
		return
	}
	switch typ {
	case ChangeDPMS:
		dpms := DPMS(value.U32)
		if v.dpms == dpms {
			return
		}
		log().Debugf("vblank %p dpms %s", v, dpms)
		v.dpms = dpms
		v.checkHWorSW = true
		if dpms != DPMSOn {
			if v.enableFake {
				v.changeToSW()
			} else {
				v.freeHWWaits(ErrDPMSOff, true)
			}
		}
	case ChangeConnection:
		log().Debugf("vblank %p output %s", v, ConnStatus(value.U32))
		if ConnStatus(value.U32) == ConnStatusDisconnected {
			v.freeHWWaits(ErrNone, false)
		}
	}
}

// changeToSW requeues every outstanding hardware wait onto the
// software timer. Lock held.
func (v *Vblank) changeToSW() {
	log().Debugf("vblank %p change to SW", v)
	waits := v.hwWaits
	v.hwWaits = nil
	for _, w := range waits {
		v.waitSW(w)
	}
}

// freeHWWaits discards outstanding hardware waits, optionally
// completing them with err. Lock held.
func (v *Vblank) freeHWWaits(err Error, callCB bool) {
	d := v.d
	waits := v.hwWaits
	v.hwWaits = nil
	for _, w := range waits {
		w.removed = true
		if callCB && w.fn != nil {
			d.mu.Unlock()
			w.fn(v, err, 0, 0, 0, w.userData)
			d.mu.Lock()
		}
		w.done = true
	}
}

// insertWait keeps list ordered by ascending target time; waits
// with an unseeded target order by interval instead.
func insertWait(list []*vblankWait, w *vblankWait) []*vblankWait {
	pos := len(list)
	for i, e := range list {
		if w.targetSec == 0 {
			if e.interval > w.interval {
				pos = i
				break
			}
			continue
		}
		if e.targetSec > w.targetSec ||
			(e.targetSec == w.targetSec && e.targetUsec > w.targetUsec) {
			pos = i
			break
		}
	}
	list = append(list, nil)
	copy(list[pos+1:], list[pos:])
	list[pos] = w
	return list
}

// calculateTarget computes the wait's delivery time, sequence and,
// in HW mode, the backend interval. Lock held.
func (v *Vblank) calculateTarget(w *vblankWait) {
	curr := getTimeMicros()

	if !v.hwEnable && v.lastSec == 0 && v.lastUsec == 0 {
		if v.dpms == DPMSOn {
			// Seed the timeline from one HW tick first.
			return
		}
		v.lastSec = uint32(curr / 1000000)
		v.lastUsec = uint32(curr % 1000000)
	}

	last := uint64(v.lastSec)*1000000 + uint64(v.lastUsec)
	req := uint64(w.reqSec)*1000000 + uint64(w.reqUsec)

	var skip uint32
	if req > last {
		skip = uint32(float64(req-last) / v.vblankGap)
	}
	prev := last + uint64(float64(skip)*v.vblankGap)

	if v.lastSeq == 0 {
		skip = 0
	}
	skip += w.interval

	var target uint64
	if v.hwEnable {
		var hwSkip uint32
		if curr > prev {
			hwSkip = uint32(float64(curr-prev) / v.hwVblankGap)
		}
		hwInterval := int(w.interval*v.hwQuotient) - int(hwSkip)
		if hwInterval < 1 {
			hwInterval = 1
		}
		w.targetHWInterval = hwInterval
		target = prev + uint64(float64(hwInterval)*v.hwVblankGap)
	} else {
		target = prev + uint64(v.vblankGap*float64(w.interval))
		for target < curr {
			target += uint64(v.vblankGap)
			skip++
		}
	}

	w.targetSeq = v.lastSeq + skip
	w.targetSec = uint32(target / 1000000)
	w.targetUsec = uint32(target % 1000000)

	log().Debugf("vblank %p wait %p last(%d) req(%d) curr(%d) skip(%d) hw_interval(%d) target(%d)",
		v, w, last, req, curr, skip, w.targetHWInterval, target)
}

// waitHW issues the backend wait for w. Lock held.
func (v *Vblank) waitHW(w *vblankWait) Error {
	if w.targetHWInterval < 1 {
		return ErrOperationFailed
	}
	v.hwWaits = insertWait(v.hwWaits, w)

	err := v.output.waitVblankInternal(w.targetHWInterval, 0, v.cbVblankHW, w)
	if err != ErrNone {
		log().Errorf("vblank %p wait %p failed", v, w)
		v.removeHWWait(w)
		return err
	}
	return ErrNone
}

func (v *Vblank) removeHWWait(w *vblankWait) {
	for i, e := range v.hwWaits {
		if e == w {
			v.hwWaits = append(v.hwWaits[:i], v.hwWaits[i+1:]...)
			return
		}
	}
}

// cbVblankHW consumes the matching waiter when the backend tick
// arrives. Called without the lock held (it is a user-level output
// vblank handler).
func (v *Vblank) cbVblankHW(o *Output, sequence, tvSec, tvUsec uint32, userData any) {
	w, ok := userData.(*vblankWait)
	if !ok || w == nil {
		return
	}
	d := v.d
	d.mu.Lock()
	if w.removed || w.done {
		d.mu.Unlock()
		log().Debugf("vblank %p stale wait %p", v, w)
		return
	}
	v.removeHWWait(w)
	w.done = true

	v.lastSeq = w.targetSeq
	v.lastSec = tvSec
	v.lastUsec = tvUsec
	seq := v.lastSeq
	d.mu.Unlock()

	if w.fn != nil {
		w.fn(v, ErrNone, seq, tvSec, tvUsec, w.userData)
	}
}

// cbVblankSWFirst seeds the timeline from the first HW tick while
// the last delivery time is unknown: the pending waiters with the
// minimum interval complete now; the rest are requeued against the
// fresh timeline. Called without the lock held.
func (v *Vblank) cbVblankSWFirst(o *Output, sequence, tvSec, tvUsec uint32, userData any) {
	w, ok := userData.(*vblankWait)
	if !ok || w == nil {
		return
	}
	d := v.d
	d.mu.Lock()
	if w.removed {
		d.mu.Unlock()
		return
	}
	if len(v.swPending) == 0 {
		d.mu.Unlock()
		return
	}

	minInterval := v.swPending[0].interval

	last := uint64(tvSec)*1000000 + uint64(tvUsec)
	last -= uint64(v.offset * 1000)

	v.lastSeq = minInterval
	v.lastSec = uint32(last / 1000000)
	v.lastUsec = uint32(last % 1000000)

	pending := v.swPending
	v.swPending = nil

	var fire []*vblankWait
	for _, p := range pending {
		if p.interval == minInterval {
			p.done = true
			fire = append(fire, p)
		} else {
			p.interval -= minInterval
			v.calculateTarget(p)
			v.waitSW(p)
		}
	}
	seq := v.lastSeq
	d.mu.Unlock()

	for _, p := range fire {
		if p.fn != nil {
			p.fn(v, ErrNone, seq, tvSec, tvUsec, p.userData)
		}
	}
}

// cbTimerSW wakes every waiter sharing the earliest target.
// Runs as a timer-source handler, lock held.
func (v *Vblank) cbTimerSW(userData any) Error {
	d := v.d

	if len(v.swWaits) == 0 {
		return ErrNone
	}
	first := v.swWaits[0]

	v.lastSeq = first.targetSeq
	v.lastSec = first.targetSec
	v.lastUsec = first.targetUsec

	for len(v.swWaits) > 0 {
		w := v.swWaits[0]
		if w.targetSec != first.targetSec || w.targetUsec != first.targetUsec {
			break
		}
		v.swWaits = v.swWaits[1:]
		w.done = true

		if w.fn != nil {
			d.mu.Unlock()
			w.fn(v, ErrNone, w.targetSeq, w.targetSec, w.targetUsec, w.userData)
			d.mu.Lock()
		}
	}

	// keep the single timer driving the remaining waiters
	if len(v.swWaits) > 0 {
		v.swTimerUpdate()
	}
	return ErrNone
}

// swTimerUpdate arms the engine's timer source for the earliest
// target in the SW wait list. Lock held.
func (v *Vblank) swTimerUpdate() Error {
	if len(v.swWaits) == 0 {
		return ErrNone
	}
	first := v.swWaits[0]
	curr := getTimeMicros()
	target := uint64(first.targetSec)*1000000 + uint64(first.targetUsec)

	msDelay := 1
	if target > curr {
		msDelay = int(math.Ceil(float64(target-curr) / 1000))
	}
	if msDelay < 1 {
		msDelay = 1
	}

	log().Debugf("vblank %p wait %p curr(%d) target(%d) delay(%d)",
		v, first, curr, target, msDelay)

	if v.swTimer == nil {
		timer, err := v.d.loop.addTimer(func(any) Error { return v.cbTimerSW(nil) }, nil)
		if err != ErrNone {
			log().Errorf("vblank %p couldn't add timer", v)
			return err
		}
		v.swTimer = timer
		log().Debugf("vblank %p use SW vblank", v)
	}
	if err := v.swTimer.UpdateTimer(msDelay); err != ErrNone {
		log().Errorf("vblank %p couldn't update timer", v)
		return err
	}
	return ErrNone
}

// waitSW queues w on the software path. While the timeline is
// unseeded and DPMS is on, one hardware wait of interval 1 seeds
// it and the waiters park on the pending list. Lock held.
func (v *Vblank) waitSW(w *vblankWait) Error {
	if v.lastSec == 0 && v.lastUsec == 0 && v.dpms == DPMSOn {
		doWait := len(v.swPending) == 0
		v.swPending = insertWait(v.swPending, w)
		if doWait {
			err := v.output.waitVblankInternal(1, 0, v.cbVblankSWFirst, w)
			if err != ErrNone {
				for i, e := range v.swPending {
					if e == w {
						v.swPending = append(v.swPending[:i], v.swPending[i+1:]...)
						break
					}
				}
				return err
			}
		}
		return ErrNone
	}

	if w.targetSec == 0 && w.targetUsec == 0 {
		return ErrOperationFailed
	}

	v.swWaits = insertWait(v.swWaits, w)

	if err := v.swTimerUpdate(); err != ErrNone {
		log().Errorf("vblank %p couldn't update sw timer", v)
		return err
	}
	return ErrNone
}

// Wait requests one tick, interval periods (at the configured fps)
// past the caller-provided request time. The handler receives the
// delivered sequence and timestamp on the caller's thread.
//
// ErrDPMSOff when the output is powered down and fake ticks are
// not enabled. In sync mode Wait drives the dispatch loop until
// the handler has run; calling that from the loop thread is
// rejected with ErrBadRequest.
func (v *Vblank) Wait(reqSec, reqUsec, interval uint32, fn VblankHandler, userData any) Error {
	if v == nil || fn == nil {
		return ErrInvalidParameter
	}
	d := v.d
	d.mu.Lock()

	if v.dpms != DPMSOn && !v.enableFake {
		d.mu.Unlock()
		log().Debugf("vblank %p can't wait, dpms %s", v, v.dpms)
		return ErrDPMSOff
	}

	sync := v.sync
	if sync && !d.inDisplayThread(unix.Gettid()) {
		d.mu.Unlock()
		log().Error("sync wait from the loop thread")
		return ErrBadRequest
	}

	if v.checkHWorSW {
		v.checkHWorSW = false
		v.vblankGap = 1000000 / float64(v.fps)
		v.hwQuotient = v.vrefresh / v.fps

		if v.dpms == DPMSOn && v.vrefresh%v.fps == 0 {
			v.hwEnable = true
			log().Debugf("vblank %p use HW vblank", v)
		} else {
			v.hwEnable = false
			log().Debugf("vblank %p use SW vblank", v)
		}
	}

	w := &vblankWait{
		v:        v,
		reqSec:   reqSec,
		reqUsec:  reqUsec,
		interval: interval,
		userData: userData,
	}
	w.fn = fn

	v.calculateTarget(w)

	var err Error
	if v.hwEnable {
		err = v.waitHW(w)
	} else {
		err = v.waitSW(w)
	}
	d.mu.Unlock()

	if err != ErrNone {
		return err
	}

	if sync {
		for {
			d.mu.Lock()
			done := w.done
			d.mu.Unlock()
			if done {
				break
			}
			if e := d.HandleEvents(); e != ErrNone {
				return e
			}
		}
	}
	return ErrNone
}
