// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tizenorg/tdm"
)

// nowSecUsec reads the monotonic clock the engine aligns to.
func nowSecUsec() (uint32, uint32) {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return uint32(ts.Sec), uint32(ts.Nsec / 1000)
}

// tick is one recorded delivery.
type tick struct {
	seq uint32
	us  uint64
}

// collectTicks issues count sequential waits and records each
// delivery.
func collectTicks(t *testing.T, d *tdm.Display, v *tdm.Vblank, count int, timeout time.Duration) []tick {
	t.Helper()
	var ticks []tick
	for i := 0; i < count; i++ {
		fired := false
		sec, usec := nowSecUsec()
		err := v.Wait(sec, usec, 1, func(vv *tdm.Vblank, e tdm.Error, seq, tvSec, tvUsec uint32, ud any) {
			if e != tdm.ErrNone {
				t.Errorf("wait %d: error %v", i, e)
			}
			fired = true
			ticks = append(ticks, tick{seq, uint64(tvSec)*1000000 + uint64(tvUsec)})
		}, nil)
		if err != tdm.ErrNone {
			t.Fatalf("Wait %d: %v", i, err)
		}
		if !handleUntil(t, d, timeout, func() bool { return fired }) {
			t.Fatalf("wait %d not delivered within %v", i, timeout)
		}
	}
	return ticks
}

func TestVblankFPSDivision(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()
	if err := v.SetFPS(30); err != tdm.ErrNone {
		t.Fatalf("SetFPS: %v", err)
	}

	ticks := collectTicks(t, d, v, 5, 200*time.Millisecond)

	for i, tk := range ticks {
		if tk.seq != uint32(i+1) {
			t.Errorf("tick %d: seq = %d, want %d", i, tk.seq, i+1)
		}
	}
	// 30 fps on a 60 Hz output: one delivery every ~33333 us
	for i := 1; i < len(ticks); i++ {
		delta := ticks[i].us - ticks[i-1].us
		if delta < 25000 || delta > 42000 {
			t.Errorf("tick %d: delta = %d us, want ~33333", i, delta)
		}
	}
}

func TestVblankFPSNonDivision(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()
	// 45 does not divide 60: the software path takes over after
	// one seeding hardware wait
	if err := v.SetFPS(45); err != tdm.ErrNone {
		t.Fatalf("SetFPS: %v", err)
	}

	ticks := collectTicks(t, d, v, 4, 200*time.Millisecond)

	for i := 1; i < len(ticks); i++ {
		if ticks[i].seq <= ticks[i-1].seq {
			t.Errorf("tick %d: seq %d not increasing (prev %d)", i, ticks[i].seq, ticks[i-1].seq)
		}
		delta := ticks[i].us - ticks[i-1].us
		if delta < 12000 || delta > 40000 {
			t.Errorf("tick %d: delta = %d us, want ~22222", i, delta)
		}
	}
}

func TestVblankFake(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)
	if err := o.SetDPMS(tdm.DPMSOff); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()
	if err := v.SetEnableFake(true); err != tdm.ErrNone {
		t.Fatalf("SetEnableFake: %v", err)
	}

	start := time.Now()
	ticks := collectTicks(t, d, v, 3, 100*time.Millisecond)
	if elapsed := time.Since(start); elapsed > 120*time.Millisecond {
		t.Errorf("3 fake ticks took %v", elapsed)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].seq <= ticks[i-1].seq {
			t.Errorf("tick %d: seq %d not increasing", i, ticks[i].seq)
		}
		if ticks[i].us <= ticks[i-1].us {
			t.Errorf("tick %d: timestamp not monotonic", i)
		}
	}
}

func TestVblankDPMSOffRejected(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()

	if err := o.SetDPMS(tdm.DPMSOff); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	sec, usec := nowSecUsec()
	werr := v.Wait(sec, usec, 1, func(*tdm.Vblank, tdm.Error, uint32, uint32, uint32, any) {}, nil)
	if werr != tdm.ErrDPMSOff {
		t.Fatalf("Wait with DPMS off = %v, want DpmsOff", werr)
	}
}

func TestVblankSetters(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	v, err := d.CreateVblank(o)
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()

	if err := v.SetFPS(0); err != tdm.ErrInvalidParameter {
		t.Errorf("SetFPS(0) = %v, want InvalidParameter", err)
	}
	if err := v.SetFPS(30); err != tdm.ErrNone {
		t.Errorf("SetFPS(30) = %v", err)
	}
	if got := v.FPS(); got != 30 {
		t.Errorf("FPS = %d, want 30", got)
	}
	if err := v.SetOffset(5); err != tdm.ErrNone {
		t.Errorf("SetOffset = %v", err)
	}
}

func TestOutputWaitVblankIntervalZero(t *testing.T) {
	d := initDisplay(t, nil)
	o := prepareOutput(t, d, 0)

	err := o.WaitVblank(0, 0, func(*tdm.Output, uint32, uint32, uint32, any) {}, nil)
	if err != tdm.ErrInvalidParameter {
		t.Fatalf("WaitVblank(0) = %v, want InvalidParameter", err)
	}
}
