// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"golang.org/x/sys/unix"
)

// PP is a memory-to-memory post-processor: a scaler, converter or
// rotator fed with (src, dst) buffer pairs.
type PP struct {
	d *Display

	stamp   uint64
	backend BackendPP

	pending  []*ppPair
	inflight []*ppPair

	ownerTID   int
	nextPairID uint64
}

// ppPair is one attached (src, dst) pair. The id crosses the
// thread bridge instead of pointers.
type ppPair struct {
	id  uint64
	src Surface
	dst Surface
}

// createPPInternal creates a post-processor object. Lock held.
func (d *Display) createPPInternal() (*PP, Error) {
	if d.capabilities&DisplayCapabilityPP == 0 {
		log().Error("no pp capability")
		return nil, ErrNoCapability
	}

	backend, err := d.funcDisplay.CreatePP(d.bdata)
	if err != ErrNone {
		return nil, err
	}

	pp := &PP{
		d:        d,
		backend:  backend,
		ownerTID: unix.Gettid(),
	}
	if err := d.funcPP.SetDoneHandler(backend, backendPPDoneCB, pp); err != ErrNone {
		log().Errorf("pp %p set done handler failed", pp)
		d.funcPP.Destroy(backend)
		return nil, err
	}

	pp.stamp = d.newStamp(func(s uint64) bool { return d.findPPStamp(s) != nil })
	d.pps = append(d.pps, pp)
	return pp, ErrNone
}

// Destroy destroys the post-processor. Outstanding buffers are
// released, with their release handlers running.
func (pp *PP) Destroy() {
	if pp == nil {
		return
	}
	d := pp.d
	d.mu.Lock()
	defer d.mu.Unlock()
	pp.destroyInternal()
}

// destroyInternal unlinks and releases everything. Lock held.
func (pp *PP) destroyInternal() {
	d := pp.d
	for i, e := range d.pps {
		if e == pp {
			d.pps = append(d.pps[:i], d.pps[i+1:]...)
			break
		}
	}

	d.funcPP.Destroy(pp.backend)

	if len(pp.pending) > 0 {
		log().Warnf("pp %p pending buffers dropped:", pp)
		ppListDump(pp.pending)
		pending := pp.pending
		pp.pending = nil
		for _, b := range pending {
			src, dst := b.src, b.dst
			d.mu.Unlock()
			UnrefBufferBackend(src)
			UnrefBufferBackend(dst)
			d.mu.Lock()
		}
	}
	if len(pp.inflight) > 0 {
		log().Warnf("pp %p not finished:", pp)
		ppListDump(pp.inflight)
		inflight := pp.inflight
		pp.inflight = nil
		for _, b := range inflight {
			src, dst := b.src, b.dst
			d.mu.Unlock()
			UnrefBufferBackend(src)
			UnrefBufferBackend(dst)
			d.mu.Lock()
		}
	}
	pp.stamp = 0
}

// SetInfo configures the converter.
func (pp *PP) SetInfo(info *PPInfo) Error {
	if pp == nil || info == nil {
		return ErrInvalidParameter
	}
	d := pp.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcPP.SetInfo == nil {
		log().Debug("pp set info not implemented")
		return ErrNotImplemented
	}

	if dbgPP.Load() {
		log().Infof("pp %p info: src(%dx%d %d,%d %dx%d %s) dst(%dx%d %d,%d %dx%d %s) trans(%d) sync(%v) flags(%x)",
			pp, info.SrcConfig.Size.H, info.SrcConfig.Size.V,
			info.SrcConfig.Pos.X, info.SrcConfig.Pos.Y,
			info.SrcConfig.Pos.W, info.SrcConfig.Pos.H, info.SrcConfig.Format,
			info.DstConfig.Size.H, info.DstConfig.Size.V,
			info.DstConfig.Pos.X, info.DstConfig.Pos.Y,
			info.DstConfig.Pos.W, info.DstConfig.Pos.H, info.DstConfig.Format,
			info.Transform, info.Sync, info.Flags)
	}

	return d.funcPP.SetInfo(pp.backend, info)
}

// Attach enqueues a (src, dst) pair, taking one backend ref on
// each side. ErrBadRequest when the backend-reported attach bound
// is exceeded (honored for module ABI >= 1.2; 0 means unlimited).
func (pp *PP) Attach(src, dst Surface) Error {
	if pp == nil || src == nil || dst == nil {
		return ErrInvalidParameter
	}
	d := pp.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcPP.Attach == nil {
		log().Debug("pp attach not implemented")
		return ErrNotImplemented
	}

	if d.checkModuleABI(1, 2) && d.capsPP.MaxAttachCount > 0 {
		if len(pp.pending)+len(pp.inflight) >= d.capsPP.MaxAttachCount {
			log().Debugf("pp %p too many attached, max %d", pp, d.capsPP.MaxAttachCount)
			return ErrBadRequest
		}
	}

	dumpPPBuffer(src, true)

	if err := d.funcPP.Attach(pp.backend, src, dst); err != ErrNone {
		log().Error("pp attach failed")
		return err
	}

	pp.nextPairID++
	pair := &ppPair{
		id:  pp.nextPairID,
		src: RefBufferBackend(src),
		dst: RefBufferBackend(dst),
	}
	pp.pending = append(pp.pending, pair)

	if dbgBuffer.Load() {
		log().Infof("pp %p attached:", pp)
		ppListDump(pp.pending)
	}
	return ErrNone
}

// Commit moves every pending pair to the in-flight list, then
// starts the backend. On failure the just-moved pairs are rolled
// back: released and unlinked.
func (pp *PP) Commit() Error {
	if pp == nil {
		return ErrInvalidParameter
	}
	d := pp.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.funcPP.Commit == nil {
		log().Debug("pp commit not implemented")
		return ErrNotImplemented
	}

	moved := pp.pending
	pp.pending = nil
	pp.inflight = append(pp.inflight, moved...)

	err := d.funcPP.Commit(pp.backend)
	if err != ErrNone {
		log().Warnf("pp %p commit failed", pp)
		for _, b := range moved {
			for i, e := range pp.inflight {
				if e == b {
					pp.inflight = append(pp.inflight[:i], pp.inflight[i+1:]...)
					break
				}
			}
			src, dst := b.src, b.dst
			d.mu.Unlock()
			UnrefBufferBackend(src)
			UnrefBufferBackend(dst)
			d.mu.Lock()
		}
	}
	return err
}

// backendPPDoneCB enters from the backend on the loop thread with
// the lock held; userData is the owning PP.
func backendPPDoneCB(bpp BackendPP, src, dst Surface, userData any) {
	pp, ok := userData.(*PP)
	if !ok || pp == nil {
		return
	}
	d := pp.d

	pair := pp.findPair(src, dst)
	if pair == nil {
		log().Warnf("pp %p done for unknown pair", pp)
		return
	}

	if d.threadIsRunning() && pp.ownerTID != unix.Gettid() {
		if err := d.threadSendDone(threadCBPPDone, pp.stamp, pair.id); err != ErrNone {
			log().Warn("pp done forward failed")
		}
		return
	}
	pp.cbDone(pair.id)
}

// findPair locates an in-flight pair by its surfaces. Lock held.
func (pp *PP) findPair(src, dst Surface) *ppPair {
	for _, b := range pp.inflight {
		if b.src == src && b.dst == dst {
			return b
		}
	}
	return nil
}

// cbDone retires one in-flight pair in FIFO order, releasing both
// buffers and firing their release handlers. A done for a pair not
// at the head is a backend contract violation: logged, but the
// matching pair is still removed. Lock held.
func (pp *PP) cbDone(id uint64) {
	d := pp.d

	if len(pp.inflight) == 0 {
		log().Errorf("pp %p done with empty list", pp)
		return
	}
	if pp.inflight[0].id != id {
		log().Errorf("pp %p pair %d skipped", pp, pp.inflight[0].id)
	}

	var pair *ppPair
	for i, b := range pp.inflight {
		if b.id == id {
			pair = b
			pp.inflight = append(pp.inflight[:i], pp.inflight[i+1:]...)
			break
		}
	}
	if pair == nil {
		return
	}

	dumpPPBuffer(pair.dst, false)

	if dbgBuffer.Load() {
		log().Infof("pp %p done: src(%p) dst(%p)", pp, pair.src, pair.dst)
	}

	src, dst := pair.src, pair.dst
	d.mu.Unlock()
	UnrefBufferBackend(src)
	UnrefBufferBackend(dst)
	d.mu.Lock()
}

// ppListDump logs a pair list when buffer debugging is on.
func ppListDump(list []*ppPair) {
	if !dbgBuffer.Load() {
		return
	}
	pairs := make([][2]any, 0, len(list))
	for _, b := range list {
		pairs = append(pairs, [2]any{b.src, b.dst})
	}
	log().Infof("\t%v", pairs)
}
