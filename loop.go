// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"golang.org/x/sys/unix"
)

// EventLoopMask is a bitset of fd conditions delivered to an fd
// source handler.
type EventLoopMask uint32

// Event loop masks.
const (
	EventLoopReadable EventLoopMask = 1 << iota
	EventLoopWritable
	EventLoopHangup
	EventLoopError
)

// FDHandler receives the composite condition mask of a watched fd.
type FDHandler func(fd int, mask EventLoopMask, userData any) Error

// TimerHandler runs when a timer source expires. The result is
// ignored; timers are one-shot and re-armed by explicit update.
type TimerHandler func(userData any) Error

// EventSource is a registered fd or timer source.
// All methods must be called with the display initialized; sources
// die with the display.
type EventSource struct {
	loop *eventLoop

	// fd is the watched fd for fd sources and the timerfd for
	// timer sources.
	fd      int
	isTimer bool
	ownsFD  bool

	fdFunc    FDHandler
	timerFunc TimerHandler
	userData  any
}

// eventLoop is a single poll-driven dispatcher owning an epoll
// instance. Sources are keyed by fd. The loop is manipulated and
// dispatched under the display lock; blocking happens in the
// caller's poll on Fd, never inside dispatch.
type eventLoop struct {
	display *Display

	epfd    int
	sources map[int]*EventSource

	backendFD     int
	backendSource *EventSource
}

func newEventLoop(d *Display) (*eventLoop, Error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log().Errorf("epoll_create1: %v", err)
		return nil, ErrOperationFailed
	}
	return &eventLoop{
		display:   d,
		epfd:      epfd,
		sources:   make(map[int]*EventSource),
		backendFD: -1,
	}, ErrNone
}

func (l *eventLoop) deinit() {
	for fd, src := range l.sources {
		if src.ownsFD {
			unix.Close(fd)
		}
	}
	l.sources = nil
	unix.Close(l.epfd)
	l.epfd = -1
}

// fdValue returns the loop's pollable fd.
func (l *eventLoop) fdValue() int { return l.epfd }

func epollEvents(mask EventLoopMask) uint32 {
	var ev uint32
	if mask&EventLoopReadable != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&EventLoopWritable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// addFD registers an fd source. Lock held.
func (l *eventLoop) addFD(fd int, mask EventLoopMask, fn FDHandler, userData any) (*EventSource, Error) {
	if fd < 0 || fn == nil {
		return nil, ErrInvalidParameter
	}
	src := &EventSource{loop: l, fd: fd, fdFunc: fn, userData: userData}
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		log().Errorf("epoll add fd %d: %v", fd, err)
		return nil, ErrOperationFailed
	}
	l.sources[fd] = src
	return src, ErrNone
}

// addTimer registers a disarmed one-shot timer source. Lock held.
func (l *eventLoop) addTimer(fn TimerHandler, userData any) (*EventSource, Error) {
	if fn == nil {
		return nil, ErrInvalidParameter
	}
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		log().Errorf("timerfd_create: %v", err)
		return nil, ErrOperationFailed
	}
	src := &EventSource{loop: l, fd: tfd, isTimer: true, ownsFD: true, timerFunc: fn, userData: userData}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(tfd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, tfd, &ev); err != nil {
		unix.Close(tfd)
		log().Errorf("epoll add timerfd: %v", err)
		return nil, ErrOperationFailed
	}
	l.sources[tfd] = src
	return src, ErrNone
}

// UpdateFD changes the watched condition mask of an fd source.
func (s *EventSource) UpdateFD(mask EventLoopMask) Error {
	if s == nil || s.isTimer {
		return ErrInvalidParameter
	}
	ev := unix.EpollEvent{Events: epollEvents(mask), Fd: int32(s.fd)}
	if err := unix.EpollCtl(s.loop.epfd, unix.EPOLL_CTL_MOD, s.fd, &ev); err != nil {
		log().Errorf("epoll mod fd %d: %v", s.fd, err)
		return ErrOperationFailed
	}
	return ErrNone
}

// UpdateTimer arms a timer source to fire once after msDelay
// milliseconds. A zero delay disarms it.
func (s *EventSource) UpdateTimer(msDelay int) Error {
	if s == nil || !s.isTimer {
		return ErrInvalidParameter
	}
	spec := unix.ItimerSpec{
		Value: unix.Timespec{
			Sec:  int64(msDelay / 1000),
			Nsec: int64(msDelay%1000) * 1e6,
		},
	}
	if err := unix.TimerfdSettime(s.fd, 0, &spec, nil); err != nil {
		log().Errorf("timerfd_settime: %v", err)
		return ErrOperationFailed
	}
	return ErrNone
}

// Remove unregisters the source and closes fds it owns.
func (s *EventSource) Remove() {
	if s == nil || s.loop.sources == nil {
		return
	}
	if _, ok := s.loop.sources[s.fd]; !ok {
		return
	}
	unix.EpollCtl(s.loop.epfd, unix.EPOLL_CTL_DEL, s.fd, nil)
	delete(s.loop.sources, s.fd)
	if s.ownsFD {
		unix.Close(s.fd)
	}
}

// createBackendSource watches the backend's event fd, if the
// module offers one, and routes readability into the backend's
// HandleEvents entry. Lock held.
func (l *eventLoop) createBackendSource() {
	d := l.display
	if d.funcDisplay.GetFD == nil {
		log().Info("backend module offers no display fd")
		return
	}
	fd, err := d.funcDisplay.GetFD(d.bdata)
	if err != ErrNone || fd < 0 {
		log().Warnf("backend returned fd %d", fd)
		return
	}
	if d.funcDisplay.HandleEvents == nil {
		log().Error("backend has a display fd but no HandleEvents")
		return
	}

	src, e := l.addFD(fd, EventLoopReadable, func(int, EventLoopMask, any) Error {
		if dbgThread.Load() {
			log().Infof("backend fd %d event", l.backendFD)
		}
		return d.funcDisplay.HandleEvents(d.bdata)
	}, nil)
	if e != ErrNone {
		log().Errorf("watching backend fd %d failed", fd)
		return
	}
	l.backendSource = src
	l.backendFD = fd
	log().Infof("backend fd %d source created", fd)
}

// dispatch runs a single non-blocking pass over ready sources,
// invoking each handler under the display lock. It never blocks;
// actual blocking happens in the caller's poll.
// Called without the lock held.
func (l *eventLoop) dispatch() Error {
	var events [32]unix.EpollEvent
	var n int
	for {
		var err error
		n, err = unix.EpollWait(l.epfd, events[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log().Errorf("epoll_wait: %v", err)
			return ErrOperationFailed
		}
		break
	}

	for i := 0; i < n; i++ {
		ev := events[i]
		l.display.mu.Lock()
		src, ok := l.sources[int(ev.Fd)]
		if !ok {
			l.display.mu.Unlock()
			continue
		}
		if src.isTimer {
			var buf [8]byte
			unix.Read(src.fd, buf[:])
			src.timerFunc(src.userData)
		} else {
			var mask EventLoopMask
			if ev.Events&unix.EPOLLIN != 0 {
				mask |= EventLoopReadable
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				mask |= EventLoopWritable
			}
			if ev.Events&unix.EPOLLHUP != 0 {
				mask |= EventLoopHangup
			}
			if ev.Events&unix.EPOLLERR != 0 {
				mask |= EventLoopError
			}
			src.fdFunc(src.fd, mask, src.userData)
		}
		l.display.mu.Unlock()
	}
	return ErrNone
}

// AddFDHandler watches fd for the conditions in mask and calls fn
// with the composite mask observed.
func (d *Display) AddFDHandler(fd int, mask EventLoopMask, fn FDHandler, userData any) (*EventSource, Error) {
	if d == nil || d.loop == nil {
		return nil, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loop.addFD(fd, mask, fn, userData)
}

// AddTimerHandler creates a disarmed one-shot timer source; arm it
// with EventSource.UpdateTimer.
func (d *Display) AddTimerHandler(fn TimerHandler, userData any) (*EventSource, Error) {
	if d == nil || d.loop == nil {
		return nil, ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loop.addTimer(fn, userData)
}

// RemoveHandler removes an event source registered with
// AddFDHandler or AddTimerHandler.
func (d *Display) RemoveHandler(src *EventSource) {
	if d == nil || src == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	src.Remove()
}
