// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// A minimal in-test backend: one output, one layer, commits
// completed on the next backend-fd wakeup. Internal tests cannot
// use the virtual backend package without an import cycle.
type testBackend struct {
	efd     int
	output  *testOutput
	inited  bool
}

type testOutput struct {
	b        *testBackend
	dpms     DPMS
	mode     *Mode
	seq      uint32
	commitFn BackendCommitHandler
	vblankFn BackendVblankHandler
	commits  []any
	waits    []any
	layer    *testLayer
}

type testLayer struct {
	buffer Surface
}

var testMode = Mode{HDisplay: 1280, VDisplay: 720, VRefresh: 60, Name: "1280x720"}

func registerTestBackend(t *testing.T, name string) *testBackend {
	t.Helper()
	tb := &testBackend{}
	RegisterModule(&ModuleData{
		Name:       name,
		Vendor:     "test",
		ABIVersion: ABIVersion(1, 1),
		Init: func(d *Display) (BackendData, Error) {
			efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
			if err != nil {
				return nil, ErrOperationFailed
			}
			tb.efd = efd
			tb.output = &testOutput{b: tb, dpms: DPMSOff, layer: &testLayer{}}
			tb.inited = true

			d.RegisterDisplayFuncs(&DisplayFuncs{
				GetCapability: func(BackendData) (DisplayCaps, Error) {
					return DisplayCaps{MaxLayerCount: -1}, ErrNone
				},
				GetOutputs: func(BackendData) ([]BackendOutput, Error) {
					return []BackendOutput{tb.output}, ErrNone
				},
				GetFD: func(BackendData) (int, Error) { return tb.efd, ErrNone },
				HandleEvents: func(BackendData) Error {
					var buf [8]byte
					unix.Read(tb.efd, buf[:])
					o := tb.output
					now := getTimeMicros()
					for _, ud := range o.commits {
						o.seq++
						if o.commitFn != nil {
							o.commitFn(o, o.seq, uint32(now/1000000), uint32(now%1000000), ud)
						}
					}
					o.commits = nil
					for _, ud := range o.waits {
						o.seq++
						if o.vblankFn != nil {
							o.vblankFn(o, o.seq, uint32(now/1000000), uint32(now%1000000), ud)
						}
					}
					o.waits = nil
					return ErrNone
				},
			})
			d.RegisterOutputFuncs(&OutputFuncs{
				GetCapability: func(bo BackendOutput) (OutputCaps, Error) {
					return OutputCaps{
						Status: ConnStatusConnected,
						Type:   OutputTypeVirtual,
						Model:  name,
						Modes:  []Mode{testMode},
						MinW:   -1, MinH: -1, MaxW: -1, MaxH: -1, PreferredAlign: -1,
					}, ErrNone
				},
				GetLayers: func(bo BackendOutput) ([]BackendLayer, Error) {
					return []BackendLayer{bo.(*testOutput).layer}, ErrNone
				},
				Commit: func(bo BackendOutput, sync int, ud any) Error {
					o := bo.(*testOutput)
					o.commits = append(o.commits, ud)
					var one = [8]byte{1}
					unix.Write(o.b.efd, one[:])
					return ErrNone
				},
				SetCommitHandler: func(bo BackendOutput, fn BackendCommitHandler) Error {
					bo.(*testOutput).commitFn = fn
					return ErrNone
				},
				WaitVblank: func(bo BackendOutput, interval, sync int, ud any) Error {
					o := bo.(*testOutput)
					o.waits = append(o.waits, ud)
					var one = [8]byte{1}
					unix.Write(o.b.efd, one[:])
					return ErrNone
				},
				SetVblankHandler: func(bo BackendOutput, fn BackendVblankHandler) Error {
					bo.(*testOutput).vblankFn = fn
					return ErrNone
				},
				SetDPMS: func(bo BackendOutput, dpms DPMS) Error {
					bo.(*testOutput).dpms = dpms
					return ErrNone
				},
				GetDPMS: func(bo BackendOutput) (DPMS, Error) {
					return bo.(*testOutput).dpms, ErrNone
				},
				SetMode: func(bo BackendOutput, mode *Mode) Error {
					bo.(*testOutput).mode = mode
					return ErrNone
				},
				GetMode: func(bo BackendOutput) (*Mode, Error) {
					return &testMode, ErrNone
				},
			})
			d.RegisterLayerFuncs(&LayerFuncs{
				GetCapability: func(bl BackendLayer) (LayerCaps, Error) {
					return LayerCaps{
						Capabilities: LayerCapabilityPrimary | LayerCapabilityGraphic,
						Formats:      []Format{FormatARGB8888},
					}, ErrNone
				},
				SetBuffer: func(bl BackendLayer, buffer Surface) Error {
					bl.(*testLayer).buffer = buffer
					return ErrNone
				},
				UnsetBuffer: func(bl BackendLayer) Error {
					bl.(*testLayer).buffer = nil
					return ErrNone
				},
			})
			return tb, ErrNone
		},
		Deinit: func(BackendData) {
			if tb.efd > 0 {
				unix.Close(tb.efd)
				tb.efd = -1
			}
		},
	})
	return tb
}

// testSurface is a minimal in-test Surface.
type testSurface struct {
	refs int
	ud   map[any]*struct {
		v       any
		destroy func(any)
		set     bool
	}
}

func newTestSurface() *testSurface {
	return &testSurface{refs: 1, ud: make(map[any]*struct {
		v       any
		destroy func(any)
		set     bool
	})}
}

func (s *testSurface) Info() SurfaceInfo {
	return SurfaceInfo{Width: 1280, Height: 720, Format: FormatARGB8888, NumPlanes: 1}
}
func (s *testSurface) Map() ([]byte, error) { return make([]byte, 4), nil }
func (s *testSurface) Unmap()               {}
func (s *testSurface) Ref()                 { s.refs++ }
func (s *testSurface) Unref() {
	s.refs--
	if s.refs == 0 {
		for _, slot := range s.ud {
			if slot.destroy != nil && slot.set {
				slot.destroy(slot.v)
			}
		}
	}
}
func (s *testSurface) UserData(key any) (any, bool) {
	slot, ok := s.ud[key]
	if !ok || !slot.set {
		return nil, false
	}
	return slot.v, true
}
func (s *testSurface) AddUserData(key any, destroy func(any)) {
	if _, ok := s.ud[key]; !ok {
		s.ud[key] = &struct {
			v       any
			destroy func(any)
			set     bool
		}{destroy: destroy}
	}
}
func (s *testSurface) SetUserData(key, value any) bool {
	slot, ok := s.ud[key]
	if !ok {
		return false
	}
	slot.v = value
	slot.set = true
	return true
}

func initTestDisplay(t *testing.T, threaded bool, name string) *Display {
	t.Helper()
	registerTestBackend(t, name)
	t.Setenv("TDM_MODULE", name)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	if threaded {
		t.Setenv("TDM_THREAD", "1")
	} else {
		t.Setenv("TDM_THREAD", "0")
	}
	d, err := Init()
	if err != ErrNone {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { Deinit(d) })
	return d
}

// Handlers registered by a client thread must never run on the
// worker.
func TestThreadedHandlerThread(t *testing.T) {
	d := initTestDisplay(t, true, "test-threaded")

	if !d.threadIsRunning() {
		t.Fatal("worker not running")
	}

	o, err := d.GetOutput(0)
	if err != ErrNone {
		t.Fatalf("GetOutput: %v", err)
	}
	if err := o.SetDPMS(DPMSOn); err != ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}

	var handlerTID int
	lockFree := false
	fired := false
	err = o.Commit(0, func(oo *Output, seq, sec, usec uint32, ud any) {
		handlerTID = unix.Gettid()
		if d.mu.TryLock() {
			lockFree = true
			d.mu.Unlock()
		}
		fired = true
	}, nil)
	if err != ErrNone {
		t.Fatalf("Commit: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		if e := d.HandleEvents(); e != ErrNone {
			t.Fatalf("HandleEvents: %v", e)
		}
	}
	if !fired {
		t.Fatal("commit handler did not fire")
	}
	if int64(handlerTID) == d.thread.loopTID.Load() {
		t.Error("user handler ran on the worker thread")
	}
	if !lockFree {
		t.Error("global lock held during user callback")
	}
}

// Commit completion rotates the waiting buffer to showing and
// clears the waiting slot.
func TestLayerBufferRotation(t *testing.T) {
	d := initTestDisplay(t, false, "test-rotation")

	o, err := d.GetOutput(0)
	if err != ErrNone {
		t.Fatalf("GetOutput: %v", err)
	}
	if err := o.SetDPMS(DPMSOn); err != ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	l, err := o.GetLayer(0)
	if err != ErrNone {
		t.Fatalf("GetLayer: %v", err)
	}

	buf := newTestSurface()
	if err := l.SetBuffer(buf); err != ErrNone {
		t.Fatalf("SetBuffer: %v", err)
	}
	if l.waiting != Surface(buf) {
		t.Fatal("buffer not waiting after SetBuffer")
	}
	if l.showing != nil {
		t.Fatal("showing buffer before any commit")
	}

	fired := false
	if err := o.Commit(0, func(*Output, uint32, uint32, uint32, any) { fired = true }, nil); err != ErrNone {
		t.Fatalf("Commit: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		if e := d.HandleEvents(); e != ErrNone {
			t.Fatalf("HandleEvents: %v", e)
		}
	}
	if !fired {
		t.Fatal("commit handler did not fire")
	}
	if l.showing != Surface(buf) {
		t.Error("submitted buffer is not showing after commit completion")
	}
	if l.waiting != nil {
		t.Error("waiting buffer not cleared after commit completion")
	}
}
