// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm_test

import (
	"testing"
	"time"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/surface"
)

func TestPPFIFO(t *testing.T) {
	d := initDisplay(t, nil)

	pp, err := d.CreatePP()
	if err != tdm.ErrNone {
		t.Fatalf("CreatePP: %v", err)
	}
	defer pp.Destroy()

	info := &tdm.PPInfo{
		SrcConfig: tdm.Config{Size: tdm.Size{H: 640, V: 480}, Format: tdm.FormatARGB8888},
		DstConfig: tdm.Config{Size: tdm.Size{H: 320, V: 240}, Format: tdm.FormatARGB8888},
	}
	if e := pp.SetInfo(info); e != tdm.ErrNone {
		t.Fatalf("SetInfo: %v", e)
	}

	const pairs = 3
	var released []int
	srcs := make([]*surface.Buffer, pairs)
	dsts := make([]*surface.Buffer, pairs)
	for i := 0; i < pairs; i++ {
		srcs[i], _ = surface.Alloc(640, 480, tdm.FormatARGB8888)
		dsts[i], _ = surface.Alloc(320, 240, tdm.FormatARGB8888)
		defer srcs[i].Unref()
		defer dsts[i].Unref()

		idx := i
		tdm.AddBufferReleaseHandler(srcs[i], func(tdm.Surface, any) {
			released = append(released, idx)
		}, nil)

		if e := pp.Attach(srcs[i], dsts[i]); e != tdm.ErrNone {
			t.Fatalf("Attach %d: %v", i, e)
		}
	}

	if e := pp.Commit(); e != tdm.ErrNone {
		t.Fatalf("Commit: %v", e)
	}
	if !handleUntil(t, d, 200*time.Millisecond, func() bool { return len(released) == pairs }) {
		t.Fatalf("only %d of %d pairs completed", len(released), pairs)
	}
	for i, idx := range released {
		if idx != i {
			t.Errorf("release %d: pair %d, want %d (FIFO violated)", i, idx, i)
		}
	}
}

func TestPPMaxAttach(t *testing.T) {
	d := initDisplay(t, nil)

	caps, err := d.PPCapabilities()
	if err != tdm.ErrNone {
		t.Fatalf("PPCapabilities: %v", err)
	}
	if caps.MaxAttachCount <= 0 {
		t.Skip("backend reports unlimited attach")
	}

	pp, err := d.CreatePP()
	if err != tdm.ErrNone {
		t.Fatalf("CreatePP: %v", err)
	}
	defer pp.Destroy()

	var bufs []*surface.Buffer
	defer func() {
		for _, b := range bufs {
			b.Unref()
		}
	}()
	for i := 0; i < caps.MaxAttachCount; i++ {
		src, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
		dst, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
		bufs = append(bufs, src, dst)
		if e := pp.Attach(src, dst); e != tdm.ErrNone {
			t.Fatalf("Attach %d: %v", i, e)
		}
	}
	src, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
	dst, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
	bufs = append(bufs, src, dst)
	if e := pp.Attach(src, dst); e != tdm.ErrBadRequest {
		t.Fatalf("Attach beyond limit = %v, want BadRequest", e)
	}
}

func TestPPDestroyReleasesBuffers(t *testing.T) {
	d := initDisplay(t, nil)

	pp, err := d.CreatePP()
	if err != tdm.ErrNone {
		t.Fatalf("CreatePP: %v", err)
	}

	src, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
	dst, _ := surface.Alloc(64, 64, tdm.FormatARGB8888)
	defer src.Unref()
	defer dst.Unref()

	released := 0
	tdm.AddBufferReleaseHandler(src, func(tdm.Surface, any) { released++ }, nil)
	tdm.AddBufferReleaseHandler(dst, func(tdm.Surface, any) { released++ }, nil)

	if e := pp.Attach(src, dst); e != tdm.ErrNone {
		t.Fatalf("Attach: %v", e)
	}
	if e := pp.Commit(); e != tdm.ErrNone {
		t.Fatalf("Commit: %v", e)
	}
	pp.Destroy()

	if released != 2 {
		t.Fatalf("release fired %d times on destroy, want 2", released)
	}
}
