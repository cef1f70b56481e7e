// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm_test

import (
	"testing"
	"time"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/surface"
)

func TestCaptureOneshot(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	c, err := o.CreateCapture()
	if err != tdm.ErrNone {
		t.Fatalf("CreateCapture: %v", err)
	}
	defer c.Destroy()

	info := &tdm.CaptureInfo{
		DstConfig:   tdm.Config{Size: tdm.Size{H: 1920, V: 1080}, Format: tdm.FormatARGB8888},
		OneshotMode: true,
	}
	if e := c.SetInfo(info); e != tdm.ErrNone {
		t.Fatalf("SetInfo: %v", e)
	}

	first, _ := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	last, _ := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	defer first.Unref()
	defer last.Unref()

	var got tdm.Surface
	c.SetDoneHandler(func(cc *tdm.Capture, b tdm.Surface, ud any) { got = b }, nil)

	if e := c.Attach(first); e != tdm.ErrNone {
		t.Fatalf("Attach: %v", e)
	}
	if e := c.Attach(last); e != tdm.ErrNone {
		t.Fatalf("Attach: %v", e)
	}
	if e := c.Commit(); e != tdm.ErrNone {
		t.Fatalf("Commit: %v", e)
	}
	if !handleUntil(t, d, 100*time.Millisecond, func() bool { return got != nil }) {
		t.Fatal("capture done did not fire")
	}
	if got != tdm.Surface(last) {
		t.Error("oneshot capture did not use the most recently attached buffer")
	}
}

func TestCapturePeriodic(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	layer, err := o.GetLayer(0)
	if err != tdm.ErrNone {
		t.Fatalf("GetLayer: %v", err)
	}
	c, err := layer.CreateCapture()
	if err != tdm.ErrNone {
		t.Fatalf("CreateCapture: %v", err)
	}
	defer c.Destroy()

	info := &tdm.CaptureInfo{
		DstConfig: tdm.Config{Size: tdm.Size{H: 1920, V: 1080}, Format: tdm.FormatARGB8888},
		Frequency: 60,
	}
	if e := c.SetInfo(info); e != tdm.ErrNone {
		t.Fatalf("SetInfo: %v", e)
	}

	bufs := make([]*surface.Buffer, 3)
	for i := range bufs {
		bufs[i], _ = surface.Alloc(1920, 1080, tdm.FormatARGB8888)
		defer bufs[i].Unref()
	}

	done := 0
	c.SetDoneHandler(func(cc *tdm.Capture, b tdm.Surface, ud any) { done++ }, nil)

	for _, b := range bufs {
		if e := c.Attach(b); e != tdm.ErrNone {
			t.Fatalf("Attach: %v", e)
		}
	}
	if e := c.Commit(); e != tdm.ErrNone {
		t.Fatalf("Commit: %v", e)
	}
	if !handleUntil(t, d, 200*time.Millisecond, func() bool { return done >= 3 }) {
		t.Fatalf("periodic capture produced %d dones, want >= 3", done)
	}
}
