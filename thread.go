// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"encoding/binary"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Cross-thread message types. Backend callbacks that land on the
// loop thread are forwarded to the client thread as one of these.
type threadCBType uint32

const (
	threadCBNone threadCBType = iota
	threadCBOutputCommit
	threadCBOutputVblank
	threadCBOutputStatus
	threadCBPPDone
	threadCBCaptureDone
)

// Message layout: type and length header, then fixed-size payload
// fields, little-endian, packed end-to-end into the pipe. Object
// pointers never cross the pipe; stamps and record ids are
// resolved against live objects by the reader.
const (
	threadMsgHeaderLen = 8

	// stamp + id + sequence + sec + usec
	threadMsgTickLen = threadMsgHeaderLen + 8 + 8 + 4 + 4 + 4
	// stamp + status
	threadMsgStatusLen = threadMsgHeaderLen + 8 + 4
	// stamp + record id
	threadMsgDoneLen = threadMsgHeaderLen + 8 + 8
)

// privThread is the optional worker owning the event loop.
type privThread struct {
	display *Display

	displayTID int
	loopTID    atomic.Int64

	// pipe carrying typed messages to the client thread
	pipeR, pipeW int

	// pipe waking the worker out of poll on deinit
	stopR, stopW int

	wg sync.WaitGroup
}

// threadInit spawns the worker unless TDM_THREAD=0.
// The worker goroutine is locked to its OS thread so that thread
// ids identify it reliably.
func (d *Display) threadInit() Error {
	if d.thread != nil {
		return ErrNone
	}
	if v, ok := os.LookupEnv("TDM_THREAD"); ok && v == "0" {
		log().Info("not using an event thread")
		return ErrNone
	}

	var msg, stop [2]int
	if err := unix.Pipe2(msg[:], unix.O_CLOEXEC); err != nil {
		log().Errorf("pipe: %v", err)
		return ErrOperationFailed
	}
	if err := unix.Pipe2(stop[:], unix.O_CLOEXEC); err != nil {
		unix.Close(msg[0])
		unix.Close(msg[1])
		log().Errorf("pipe: %v", err)
		return ErrOperationFailed
	}

	t := &privThread{
		display:    d,
		displayTID: unix.Gettid(),
		pipeR:      msg[0],
		pipeW:      msg[1],
		stopR:      stop[0],
		stopW:      stop[1],
	}
	d.thread = t

	t.wg.Add(1)
	go t.main()

	log().Infof("using an event thread, pipe(%d,%d)", t.pipeR, t.pipeW)
	return ErrNone
}

// main is the worker: flush wire clients, poll the loop fd, then
// dispatch a single pass.
func (t *privThread) main() {
	defer t.wg.Done()

	runtime.LockOSThread()
	t.loopTID.Store(int64(unix.Gettid()))
	log().Infof("display tid %d, thread tid %d", t.displayTID, t.loopTID.Load())

	d := t.display
	fds := []unix.PollFd{
		{Fd: int32(d.loop.fdValue()), Events: unix.POLLIN},
		{Fd: int32(t.stopR), Events: unix.POLLIN},
	}

	for {
		if dbgThread.Load() {
			log().Info("server flush")
		}
		d.mu.Lock()
		if d.server != nil {
			d.server.flush()
		}
		d.mu.Unlock()

		fds[0].Revents = 0
		fds[1].Revents = 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			log().Errorf("poll: %v", err)
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		if err := d.loop.dispatch(); err != ErrNone {
			log().Error("dispatch error")
		}
	}
}

// threadDeinit stops and joins the worker and closes the pipes.
// Called without the display lock held.
func (d *Display) threadDeinit() {
	t := d.thread
	if t == nil {
		return
	}
	var one = [1]byte{1}
	unix.Write(t.stopW, one[:])
	t.wg.Wait()

	unix.Close(t.pipeR)
	unix.Close(t.pipeW)
	unix.Close(t.stopR)
	unix.Close(t.stopW)
	d.thread = nil

	log().Info("event thread finished")
}

// threadIsRunning reports whether the worker exists.
func (d *Display) threadIsRunning() bool { return d.thread != nil }

// inDisplayThread reports whether the calling thread is a client
// thread rather than the worker. Without a worker every thread
// counts as the display thread. The worker is locked to its OS
// thread, so the tid comparison is exact.
func (d *Display) inDisplayThread(tid int) bool {
	if d.thread == nil {
		return true
	}
	return int64(tid) != d.thread.loopTID.Load()
}

// threadFD returns the read end of the message pipe.
func (d *Display) threadFD() int {
	if d.thread == nil {
		return -1
	}
	return d.thread.pipeR
}

func putThreadHeader(b []byte, typ threadCBType, length int) {
	binary.LittleEndian.PutUint32(b[0:], uint32(typ))
	binary.LittleEndian.PutUint32(b[4:], uint32(length))
}

// threadSendTick forwards a commit or vblank completion.
func (d *Display) threadSendTick(typ threadCBType, stamp, id uint64, seq, sec, usec uint32) Error {
	var b [threadMsgTickLen]byte
	putThreadHeader(b[:], typ, len(b))
	binary.LittleEndian.PutUint64(b[8:], stamp)
	binary.LittleEndian.PutUint64(b[16:], id)
	binary.LittleEndian.PutUint32(b[24:], seq)
	binary.LittleEndian.PutUint32(b[28:], sec)
	binary.LittleEndian.PutUint32(b[32:], usec)
	return d.threadSend(b[:])
}

// threadSendStatus forwards a connection-status change.
func (d *Display) threadSendStatus(stamp uint64, status ConnStatus) Error {
	var b [threadMsgStatusLen]byte
	putThreadHeader(b[:], threadCBOutputStatus, len(b))
	binary.LittleEndian.PutUint64(b[8:], stamp)
	binary.LittleEndian.PutUint32(b[16:], uint32(status))
	return d.threadSend(b[:])
}

// threadSendDone forwards a PP or capture completion; id names the
// in-flight record within the stamped object.
func (d *Display) threadSendDone(typ threadCBType, stamp, id uint64) Error {
	var b [threadMsgDoneLen]byte
	putThreadHeader(b[:], typ, len(b))
	binary.LittleEndian.PutUint64(b[8:], stamp)
	binary.LittleEndian.PutUint64(b[16:], id)
	return d.threadSend(b[:])
}

func (d *Display) threadSend(b []byte) Error {
	t := d.thread
	if t == nil {
		return ErrInvalidParameter
	}
	if dbgThread.Load() {
		log().Infof("fd %d send type %d length %d",
			t.pipeW, binary.LittleEndian.Uint32(b), len(b))
	}
	n, err := unix.Write(t.pipeW, b)
	if err != nil || n != len(b) {
		log().Errorf("pipe write (%d != %d): %v", n, len(b), err)
		return ErrOperationFailed
	}
	return ErrNone
}

// threadHandleCB drains the message pipe on the client thread and
// dispatches each message. Messages whose object has been
// destroyed are dropped. Called without the lock held; the
// per-message callbacks take it.
func (d *Display) threadHandleCB() Error {
	t := d.thread
	if t == nil {
		return ErrInvalidParameter
	}

	var buf [1024]byte
	n, err := unix.Read(t.pipeR, buf[:])
	if err == unix.EAGAIN {
		return ErrNone
	}
	if err != nil {
		log().Errorf("pipe read: %v", err)
		return ErrOperationFailed
	}
	if dbgThread.Load() {
		log().Infof("fd %d read length %d", t.pipeR, n)
	}

	i := 0
	for i+threadMsgHeaderLen <= n {
		typ := threadCBType(binary.LittleEndian.Uint32(buf[i:]))
		length := int(binary.LittleEndian.Uint32(buf[i+4:]))
		if length < threadMsgHeaderLen || i+length > n {
			log().Errorf("malformed thread message, type %d length %d", typ, length)
			break
		}
		body := buf[i+8 : i+length]
		i += length

		switch typ {
		case threadCBOutputCommit, threadCBOutputVblank:
			stamp := binary.LittleEndian.Uint64(body)
			id := binary.LittleEndian.Uint64(body[8:])
			seq := binary.LittleEndian.Uint32(body[16:])
			sec := binary.LittleEndian.Uint32(body[20:])
			usec := binary.LittleEndian.Uint32(body[24:])

			d.mu.Lock()
			o := d.findOutputStamp(stamp)
			if o == nil {
				d.mu.Unlock()
				log().Warnf("no output %d", stamp)
				break
			}
			if typ == threadCBOutputCommit {
				o.cbCommit(id, seq, sec, usec)
			} else {
				o.cbVblank(id, seq, sec, usec)
			}
			d.mu.Unlock()

		case threadCBOutputStatus:
			stamp := binary.LittleEndian.Uint64(body)
			status := ConnStatus(binary.LittleEndian.Uint32(body[8:]))

			d.mu.Lock()
			o := d.findOutputStamp(stamp)
			if o == nil {
				d.mu.Unlock()
				log().Warnf("no output %d", stamp)
				break
			}
			o.cbStatus(status)
			d.mu.Unlock()

		case threadCBPPDone:
			stamp := binary.LittleEndian.Uint64(body)
			id := binary.LittleEndian.Uint64(body[8:])

			d.mu.Lock()
			pp := d.findPPStamp(stamp)
			if pp == nil {
				d.mu.Unlock()
				log().Warnf("no pp %d", stamp)
				break
			}
			pp.cbDone(id)
			d.mu.Unlock()

		case threadCBCaptureDone:
			stamp := binary.LittleEndian.Uint64(body)
			id := binary.LittleEndian.Uint64(body[8:])

			d.mu.Lock()
			c := d.findCaptureStamp(stamp)
			if c == nil {
				d.mu.Unlock()
				log().Warnf("no capture %d", stamp)
				break
			}
			c.cbDone(id)
			d.mu.Unlock()

		default:
			log().Warnf("unknown thread message type %d", typ)
		}
	}

	d.mu.Lock()
	if d.server != nil {
		d.server.flush()
	}
	d.mu.Unlock()

	return ErrNone
}
