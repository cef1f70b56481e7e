// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// newTestLoop builds a loop over a bare display, bypassing Init.
func newTestLoop(t *testing.T) (*Display, *eventLoop) {
	t.Helper()
	d := &Display{}
	loop, err := newEventLoop(d)
	if err != ErrNone {
		t.Fatalf("newEventLoop: %v", err)
	}
	d.loop = loop
	t.Cleanup(loop.deinit)
	return d, loop
}

func TestLoopFDSource(t *testing.T) {
	d, loop := newTestLoop(t)

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	var gotMask EventLoopMask
	fired := 0
	d.mu.Lock()
	src, err := loop.addFD(p[0], EventLoopReadable, func(fd int, mask EventLoopMask, ud any) Error {
		fired++
		gotMask = mask
		var b [8]byte
		unix.Read(fd, b[:])
		return ErrNone
	}, nil)
	d.mu.Unlock()
	if err != ErrNone {
		t.Fatalf("addFD: %v", err)
	}

	// nothing ready: dispatch is a non-blocking no-op
	if e := loop.dispatch(); e != ErrNone {
		t.Fatalf("dispatch: %v", e)
	}
	if fired != 0 {
		t.Fatal("handler fired with no data")
	}

	unix.Write(p[1], []byte("x"))
	if e := loop.dispatch(); e != ErrNone {
		t.Fatalf("dispatch: %v", e)
	}
	if fired != 1 {
		t.Fatalf("handler fired %d times, want 1", fired)
	}
	if gotMask&EventLoopReadable == 0 {
		t.Errorf("mask = %v, want readable", gotMask)
	}

	d.mu.Lock()
	src.Remove()
	d.mu.Unlock()
	unix.Write(p[1], []byte("y"))
	loop.dispatch()
	if fired != 1 {
		t.Error("removed source still fired")
	}
}

func TestLoopTimerSource(t *testing.T) {
	d, loop := newTestLoop(t)

	fired := 0
	d.mu.Lock()
	src, err := loop.addTimer(func(ud any) Error {
		fired++
		return ErrNone
	}, nil)
	d.mu.Unlock()
	if err != ErrNone {
		t.Fatalf("addTimer: %v", err)
	}

	if e := src.UpdateTimer(5); e != ErrNone {
		t.Fatalf("UpdateTimer: %v", e)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for fired == 0 && time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(loop.fdValue()), Events: unix.POLLIN}}
		unix.Poll(fds, 50)
		loop.dispatch()
	}
	if fired != 1 {
		t.Fatalf("timer fired %d times, want 1", fired)
	}

	// timers are one-shot: no re-arm, no second firing
	time.Sleep(10 * time.Millisecond)
	loop.dispatch()
	if fired != 1 {
		t.Fatalf("timer re-fired without update: %d", fired)
	}

	// explicit update re-arms
	if e := src.UpdateTimer(1); e != ErrNone {
		t.Fatalf("UpdateTimer: %v", e)
	}
	deadline = time.Now().Add(200 * time.Millisecond)
	for fired == 1 && time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(loop.fdValue()), Events: unix.POLLIN}}
		unix.Poll(fds, 50)
		loop.dispatch()
	}
	if fired != 2 {
		t.Fatalf("timer fired %d times after re-arm, want 2", fired)
	}
}
