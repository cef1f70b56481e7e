// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm_test

import (
	"testing"
	"time"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/backend/virtual"
	"github.com/tizenorg/tdm/surface"
)

// initDisplay brings up the display on the virtual backend,
// unthreaded, with a private socket directory.
func initDisplay(t *testing.T, outputs []virtual.OutputConfig) *tdm.Display {
	t.Helper()
	t.Setenv("TDM_THREAD", "0")
	t.Setenv("TDM_MODULE", virtual.ModuleName)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	if outputs != nil {
		old := virtual.Outputs
		virtual.Outputs = outputs
		t.Cleanup(func() { virtual.Outputs = old })
	}

	d, err := tdm.Init()
	if err != tdm.ErrNone {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { tdm.Deinit(d) })
	return d
}

// handleUntil drives the event loop until cond holds or the
// timeout passes.
func handleUntil(t *testing.T, d *tdm.Display, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		if err := d.HandleEvents(); err != tdm.ErrNone {
			t.Fatalf("HandleEvents: %v", err)
		}
	}
	return true
}

// prepareOutput powers the output up with its preferred mode.
func prepareOutput(t *testing.T, d *tdm.Display, index int) *tdm.Output {
	t.Helper()
	o, err := d.GetOutput(index)
	if err != tdm.ErrNone {
		t.Fatalf("GetOutput(%d): %v", index, err)
	}
	modes, _ := o.AvailableModes()
	if len(modes) == 0 {
		t.Fatal("no modes")
	}
	if err := o.SetMode(&modes[0]); err != tdm.ErrNone {
		t.Fatalf("SetMode: %v", err)
	}
	if err := o.SetDPMS(tdm.DPMSOn); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	return o
}

func TestInitRefCount(t *testing.T) {
	d := initDisplay(t, nil)

	d2, err := tdm.Init()
	if err != tdm.ErrNone {
		t.Fatalf("nested Init: %v", err)
	}
	if d2 != d {
		t.Fatal("nested Init returned a different display")
	}
	tdm.Deinit(d2)

	// still usable after the nested deinit
	if _, err := d.OutputCount(); err != tdm.ErrNone {
		t.Fatalf("display unusable after nested deinit: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	d := initDisplay(t, nil)

	caps, err := d.Capabilities()
	if err != tdm.ErrNone {
		t.Fatalf("Capabilities: %v", err)
	}
	if caps&tdm.DisplayCapabilityPP == 0 {
		t.Error("pp capability missing")
	}
	if caps&tdm.DisplayCapabilityCapture == 0 {
		t.Error("capture capability missing")
	}
	if _, err := d.PPCapabilities(); err != tdm.ErrNone {
		t.Errorf("PPCapabilities: %v", err)
	}
	if _, err := d.CaptureCapabilities(); err != tdm.ErrNone {
		t.Errorf("CaptureCapabilities: %v", err)
	}
}

func TestOutputOrderingConnected(t *testing.T) {
	// connected DSI outranks connected HDMI-A regardless of the
	// backend's enumeration order
	d := initDisplay(t, []virtual.OutputConfig{
		{Name: "HDMI-A-1", Model: "hdmi-a", Type: tdm.OutputTypeHDMIA, Connected: true,
			Modes: []tdm.Mode{virtual.DefaultMode}, Layers: 1},
		{Name: "DSI-1", Model: "dsi", Type: tdm.OutputTypeDSI, Connected: true,
			Modes: []tdm.Mode{virtual.DefaultMode}, Layers: 1},
	})

	o, err := d.GetOutput(0)
	if err != tdm.ErrNone {
		t.Fatalf("GetOutput: %v", err)
	}
	typ, _ := o.Type()
	if typ != tdm.OutputTypeDSI {
		t.Errorf("primary type = %s, want DSI", typ)
	}
	pipe, _ := o.Pipe()
	if pipe != 0 {
		t.Errorf("primary pipe = %d, want 0", pipe)
	}
}

func TestOutputOrderingDisconnected(t *testing.T) {
	// with nothing connected, HDMI-A is the best guess
	d := initDisplay(t, []virtual.OutputConfig{
		{Name: "DSI-1", Model: "dsi", Type: tdm.OutputTypeDSI, Connected: false,
			Modes: []tdm.Mode{virtual.DefaultMode}, Layers: 1},
		{Name: "HDMI-A-1", Model: "hdmi-a", Type: tdm.OutputTypeHDMIA, Connected: false,
			Modes: []tdm.Mode{virtual.DefaultMode}, Layers: 1},
	})

	o, err := d.GetOutput(0)
	if err != tdm.ErrNone {
		t.Fatalf("GetOutput: %v", err)
	}
	typ, _ := o.Type()
	if typ != tdm.OutputTypeHDMIA {
		t.Errorf("primary type = %s, want HDMIA", typ)
	}
}

func TestSingleLayerCommit(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	layer, err := o.GetLayer(0)
	if err != tdm.ErrNone {
		t.Fatalf("GetLayer: %v", err)
	}
	buf, aerr := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	if aerr != nil {
		t.Fatalf("Alloc: %v", aerr)
	}
	defer buf.Unref()

	if err := layer.SetBuffer(buf); err != tdm.ErrNone {
		t.Fatalf("SetBuffer: %v", err)
	}
	if usable, _ := layer.IsUsable(); usable {
		t.Error("layer still usable after SetBuffer")
	}

	var seq uint32
	fired := false
	err = o.Commit(0, func(oo *tdm.Output, sequence, sec, usec uint32, ud any) {
		fired = true
		seq = sequence
	}, nil)
	if err != tdm.ErrNone {
		t.Fatalf("Commit: %v", err)
	}
	if !handleUntil(t, d, 100*time.Millisecond, func() bool { return fired }) {
		t.Fatal("commit handler did not fire within 100ms")
	}
	if seq == 0 {
		t.Error("sequence = 0, want >= 1")
	}

	// the buffer is released only after the next commit replaces it
	released := false
	tdm.AddBufferReleaseHandler(buf, func(tdm.Surface, any) { released = true }, nil)

	buf2, _ := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	defer buf2.Unref()
	if err := layer.SetBuffer(buf2); err != tdm.ErrNone {
		t.Fatalf("SetBuffer 2: %v", err)
	}
	fired = false
	if err := o.Commit(0, func(oo *tdm.Output, s, sec, usec uint32, ud any) { fired = true }, nil); err != tdm.ErrNone {
		t.Fatalf("Commit 2: %v", err)
	}
	if !handleUntil(t, d, 100*time.Millisecond, func() bool { return fired }) {
		t.Fatal("second commit did not complete")
	}
	if !released {
		t.Error("previous showing buffer not released after replacement")
	}
}

func TestCommitWhileDPMSOff(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	if err := o.SetDPMS(tdm.DPMSOff); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	fired := false
	err := o.Commit(0, func(*tdm.Output, uint32, uint32, uint32, any) { fired = true }, nil)
	if err != tdm.ErrBadRequest {
		t.Fatalf("Commit with DPMS off = %v, want BadRequest", err)
	}
	if fired {
		t.Error("handler fired for a rejected commit")
	}
}

func TestUnsetBufferReleases(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)
	layer, _ := o.GetLayer(0)

	buf, _ := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	defer buf.Unref()

	released := 0
	tdm.AddBufferReleaseHandler(buf, func(tdm.Surface, any) { released++ }, nil)

	if err := layer.SetBuffer(buf); err != tdm.ErrNone {
		t.Fatalf("SetBuffer: %v", err)
	}
	if err := layer.UnsetBuffer(); err != tdm.ErrNone {
		t.Fatalf("UnsetBuffer: %v", err)
	}
	if released != 1 {
		t.Fatalf("release fired %d times, want 1", released)
	}
	if usable, _ := layer.IsUsable(); !usable {
		t.Error("layer not usable after UnsetBuffer")
	}
	_ = d
}

func TestDPMSChangeHandler(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	var got []tdm.DPMS
	err := o.AddChangeHandler(func(oo *tdm.Output, typ tdm.ChangeType, value tdm.Value, ud any) {
		if typ == tdm.ChangeDPMS {
			got = append(got, tdm.DPMS(value.U32))
		}
	}, nil)
	if err != tdm.ErrNone {
		t.Fatalf("AddChangeHandler: %v", err)
	}

	if err := o.SetDPMS(tdm.DPMSOff); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	// same value is a no-op
	if err := o.SetDPMS(tdm.DPMSOff); err != tdm.ErrNone {
		t.Fatalf("SetDPMS repeat: %v", err)
	}
	if len(got) != 1 || got[0] != tdm.DPMSOff {
		t.Fatalf("dpms changes = %v, want [off]", got)
	}
	dpms, _ := o.GetDPMS()
	if dpms != tdm.DPMSOff {
		t.Errorf("GetDPMS = %s, want off", dpms)
	}
}

func TestHotUnplugDiscardsWaits(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()

	ticked := 0
	for i := 0; i < 2; i++ {
		sec, usec := nowSecUsec()
		err := v.Wait(sec, usec, 1, func(vv *tdm.Vblank, e tdm.Error, seq, tvSec, tvUsec uint32, ud any) {
			ticked++
		}, nil)
		if err != tdm.ErrNone {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}

	changes := 0
	o.AddChangeHandler(func(oo *tdm.Output, typ tdm.ChangeType, value tdm.Value, ud any) {
		if typ == tdm.ChangeConnection && tdm.ConnStatus(value.U32) == tdm.ConnStatusDisconnected {
			changes++
		}
	}, nil)

	virtual.SetConnection(0, tdm.ConnStatusDisconnected)
	handleUntil(t, d, 60*time.Millisecond, func() bool { return changes > 0 })

	if changes != 1 {
		t.Fatalf("connection changes = %d, want 1", changes)
	}
	if ticked != 0 {
		t.Fatalf("%d waits completed after disconnect, want 0", ticked)
	}
}
