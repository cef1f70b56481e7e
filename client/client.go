// Copyright 2026 Tizen Display Team. All rights reserved.

// Package client connects external processes to the display
// manager's socket server: it binds outputs by name, subscribes to
// connection and DPMS changes and requests aligned vblank ticks.
package client

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/protocol"
)

// VblankHandler receives one completed wait.
type VblankHandler func(v *Vblank, err tdm.Error, sequence, tvSec, tvUsec uint32, userData any)

// OutputChangeHandler receives connection and DPMS changes.
type OutputChangeHandler func(o *Output, typ tdm.ChangeType, value tdm.Value, userData any)

// Client is one connection to the display manager.
type Client struct {
	mu sync.Mutex

	fd int
	in []byte

	nextID     uint32
	nextSerial uint32
	objects    map[uint32]any

	syncDone map[uint32]bool
}

// Output is a bound output resource with its cached state.
type Output struct {
	c  *Client
	id uint32

	name string

	width    uint32
	height   uint32
	refresh  uint32
	status   tdm.ConnStatus
	dpms     tdm.DPMS
	haveMode bool

	vblanks  []*Vblank
	handlers []outputHandler
}

type outputHandler struct {
	fn       OutputChangeHandler
	userData any
}

// Vblank is a per-client tick source resource.
type Vblank struct {
	c     *Client
	id    uint32
	owner *Output

	sync bool

	nextReqID uint32
	waits     map[uint32]*wait
}

type wait struct {
	fn       VblankHandler
	userData any
	done     bool
}

// Connect opens the well-known socket.
func Connect() (*Client, tdm.Error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, tdm.ErrOperationFailed
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: protocol.SocketPath()}); err != nil {
		unix.Close(fd)
		return nil, tdm.ErrOperationFailed
	}
	return &Client{
		fd:       fd,
		nextID:   protocol.RootObjectID + 1,
		objects:  make(map[uint32]any),
		syncDone: make(map[uint32]bool),
	}, tdm.ErrNone
}

// Destroy closes the connection; every resource dies with it.
func (c *Client) Destroy() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd >= 0 {
		unix.Close(c.fd)
		c.fd = -1
	}
}

// FD returns the connection fd for the caller's poll loop.
func (c *Client) FD() (int, tdm.Error) {
	if c == nil || c.fd < 0 {
		return -1, tdm.ErrInvalidParameter
	}
	return c.fd, tdm.ErrNone
}

func (c *Client) send(frame []byte) tdm.Error {
	for len(frame) > 0 {
		n, err := unix.Write(c.fd, frame)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return tdm.ErrOperationFailed
		}
		frame = frame[n:]
	}
	return tdm.ErrNone
}

// HandleEvents blocks until data arrives, then dispatches every
// complete frame. Handlers run on the calling goroutine.
func (c *Client) HandleEvents() tdm.Error {
	if c == nil || c.fd < 0 {
		return tdm.ErrInvalidParameter
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return tdm.ErrOperationFailed
		}
		break
	}
	return c.readAndDispatch()
}

func (c *Client) readAndDispatch() tdm.Error {
	var buf [1024]byte
	n, err := unix.Read(c.fd, buf[:])
	if err == unix.EINTR || err == unix.EAGAIN {
		return tdm.ErrNone
	}
	if err != nil || n == 0 {
		return tdm.ErrOperationFailed
	}
	c.in = append(c.in, buf[:n]...)

	for {
		m, consumed, derr := protocol.Decode(c.in)
		if derr == protocol.ErrShortFrame {
			return tdm.ErrNone
		}
		if derr != nil {
			return tdm.ErrOperationFailed
		}
		c.in = c.in[consumed:]
		c.dispatch(&m)
	}
}

// roundtrip flushes the pipeline: the server answers a sync marker
// after everything sent before it.
func (c *Client) roundtrip() tdm.Error {
	c.nextSerial++
	serial := c.nextSerial
	if err := c.send(protocol.NewMessage(protocol.RootObjectID, protocol.RootSync).
		PutUint32(serial).Bytes()); err != tdm.ErrNone {
		return err
	}
	for !c.syncDone[serial] {
		if err := c.HandleEvents(); err != tdm.ErrNone {
			return err
		}
	}
	delete(c.syncDone, serial)
	return tdm.ErrNone
}

func (c *Client) dispatch(m *protocol.Message) {
	if m.Object == protocol.RootObjectID {
		switch m.Opcode {
		case protocol.RootSyncDone:
			if serial, err := m.Uint32(); err == nil {
				c.syncDone[serial] = true
			}
		case protocol.RootDebugDone:
			// replies to debug commands are informational
		}
		return
	}
	obj, ok := c.objects[m.Object]
	if !ok {
		return
	}
	switch res := obj.(type) {
	case *Output:
		res.dispatch(m)
	case *Vblank:
		res.dispatch(m)
	}
}

// CreateOutput binds the output called name. "primary" and
// "default" alias the primary output; other names match the model
// string. The initial mode, connection and DPMS state are
// available once this returns.
func (c *Client) CreateOutput(name string) (*Output, tdm.Error) {
	if c == nil || c.fd < 0 {
		return nil, tdm.ErrInvalidParameter
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	o := &Output{c: c, id: c.nextID, name: name}
	c.objects[o.id] = o

	if err := c.send(protocol.NewMessage(protocol.RootObjectID, protocol.RootCreateOutput).
		PutUint32(o.id).PutString(name).Bytes()); err != tdm.ErrNone {
		delete(c.objects, o.id)
		return nil, err
	}
	if err := c.roundtrip(); err != tdm.ErrNone {
		delete(c.objects, o.id)
		return nil, err
	}
	if !o.haveMode {
		// the server sends the mode burst only for a resolved name
		delete(c.objects, o.id)
		return nil, tdm.ErrInvalidParameter
	}
	return o, tdm.ErrNone
}

// Debug sends an opaque debug command to the server.
func (c *Client) Debug(cmd string) tdm.Error {
	if c == nil || c.fd < 0 {
		return tdm.ErrInvalidParameter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(protocol.NewMessage(protocol.RootObjectID, protocol.RootDebug).
		PutString(cmd).Bytes())
}

func (o *Output) dispatch(m *protocol.Message) {
	switch m.Opcode {
	case protocol.OutputMode:
		h, err1 := m.Uint32()
		v, err2 := m.Uint32()
		r, err3 := m.Uint32()
		if err1 != nil || err2 != nil || err3 != nil {
			return
		}
		o.width, o.height, o.refresh = h, v, r
		o.haveMode = true
	case protocol.OutputConnection:
		v, err := m.Uint32()
		if err != nil {
			return
		}
		o.status = tdm.ConnStatus(v)
		o.notify(tdm.ChangeConnection, tdm.Value{U32: v})
	case protocol.OutputDPMS:
		v, err := m.Uint32()
		if err != nil {
			return
		}
		o.dpms = tdm.DPMS(v)
		o.notify(tdm.ChangeDPMS, tdm.Value{U32: v})
	}
}

func (o *Output) notify(typ tdm.ChangeType, value tdm.Value) {
	for _, h := range o.handlers {
		h.fn(o, typ, value, h.userData)
	}
}

// Mode returns the cached mode geometry.
func (o *Output) Mode() (width, height, refresh uint32, err tdm.Error) {
	if o == nil {
		return 0, 0, 0, tdm.ErrInvalidParameter
	}
	return o.width, o.height, o.refresh, tdm.ErrNone
}

// ConnStatus returns the cached connection status.
func (o *Output) ConnStatus() (tdm.ConnStatus, tdm.Error) {
	if o == nil {
		return 0, tdm.ErrInvalidParameter
	}
	return o.status, tdm.ErrNone
}

// DPMS returns the cached power state.
func (o *Output) DPMS() (tdm.DPMS, tdm.Error) {
	if o == nil {
		return 0, tdm.ErrInvalidParameter
	}
	return o.dpms, tdm.ErrNone
}

// AddChangeHandler subscribes to connection and DPMS changes.
func (o *Output) AddChangeHandler(fn OutputChangeHandler, userData any) tdm.Error {
	if o == nil || fn == nil {
		return tdm.ErrInvalidParameter
	}
	o.handlers = append(o.handlers, outputHandler{fn, userData})
	return tdm.ErrNone
}

// Destroy releases the output resource; its vblanks go first.
func (o *Output) Destroy() {
	if o == nil {
		return
	}
	for len(o.vblanks) > 0 {
		o.vblanks[0].Destroy()
	}
	o.c.send(protocol.NewMessage(o.id, protocol.OutputDestroy).Bytes())
	delete(o.c.objects, o.id)
}

// CreateVblank creates a tick source over the output.
func (o *Output) CreateVblank() (*Vblank, tdm.Error) {
	if o == nil {
		return nil, tdm.ErrInvalidParameter
	}
	c := o.c
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	v := &Vblank{c: c, id: c.nextID, owner: o, waits: make(map[uint32]*wait)}
	c.objects[v.id] = v
	o.vblanks = append(o.vblanks, v)

	if err := c.send(protocol.NewMessage(o.id, protocol.OutputCreateVblank).
		PutUint32(v.id).Bytes()); err != tdm.ErrNone {
		delete(c.objects, v.id)
		return nil, err
	}
	return v, tdm.ErrNone
}

func (v *Vblank) dispatch(m *protocol.Message) {
	if m.Opcode != protocol.VblankDone {
		return
	}
	reqID, e1 := m.Uint32()
	seq, e2 := m.Uint32()
	sec, e3 := m.Uint32()
	usec, e4 := m.Uint32()
	werr, e5 := m.Uint32()
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
		return
	}
	w, ok := v.waits[reqID]
	if !ok {
		return
	}
	delete(v.waits, reqID)
	w.done = true
	if w.fn != nil {
		w.fn(v, tdm.Error(werr), seq, sec, usec, w.userData)
	}
}

// SetFPS sets the target tick rate.
func (v *Vblank) SetFPS(fps uint32) tdm.Error {
	if v == nil || fps == 0 {
		return tdm.ErrInvalidParameter
	}
	return v.c.send(protocol.NewMessage(v.id, protocol.VblankSetFPS).
		PutUint32(fps).Bytes())
}

// SetOffset shifts ticks by offset milliseconds.
func (v *Vblank) SetOffset(offset int) tdm.Error {
	if v == nil {
		return tdm.ErrInvalidParameter
	}
	return v.c.send(protocol.NewMessage(v.id, protocol.VblankSetOffset).
		PutInt32(int32(offset)).Bytes())
}

// SetEnableFake keeps ticks flowing while the output is off.
func (v *Vblank) SetEnableFake(enable bool) tdm.Error {
	if v == nil {
		return tdm.ErrInvalidParameter
	}
	var u uint32
	if enable {
		u = 1
	}
	return v.c.send(protocol.NewMessage(v.id, protocol.VblankSetEnableFake).
		PutUint32(u).Bytes())
}

// SetSync makes WaitVblank block until its handler has run.
func (v *Vblank) SetSync(sync bool) tdm.Error {
	if v == nil {
		return tdm.ErrInvalidParameter
	}
	v.sync = sync
	var u uint32
	if sync {
		u = 1
	}
	return v.c.send(protocol.NewMessage(v.id, protocol.VblankSetSync).
		PutUint32(u).Bytes())
}

// WaitVblank requests one tick, interval periods ahead. The done
// event carries the handler back on HandleEvents; in sync mode
// this blocks until then.
func (v *Vblank) WaitVblank(interval uint32, fn VblankHandler, userData any) tdm.Error {
	if v == nil || fn == nil || interval == 0 {
		return tdm.ErrInvalidParameter
	}
	c := v.c

	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)

	v.nextReqID++
	reqID := v.nextReqID
	w := &wait{fn: fn, userData: userData}
	v.waits[reqID] = w

	err := c.send(protocol.NewMessage(v.id, protocol.VblankWaitVblank).
		PutUint32(reqID).
		PutUint32(uint32(ts.Sec)).
		PutUint32(uint32(ts.Nsec / 1000)).
		PutUint32(interval).Bytes())
	if err != tdm.ErrNone {
		delete(v.waits, reqID)
		return err
	}

	if v.sync {
		for !w.done {
			if e := c.HandleEvents(); e != tdm.ErrNone {
				return e
			}
		}
	}
	return tdm.ErrNone
}

// Destroy cancels outstanding waits and releases the resource.
func (v *Vblank) Destroy() {
	if v == nil {
		return
	}
	v.c.send(protocol.NewMessage(v.id, protocol.VblankDestroy).Bytes())
	for i, e := range v.owner.vblanks {
		if e == v {
			v.owner.vblanks = append(v.owner.vblanks[:i], v.owner.vblanks[i+1:]...)
			break
		}
	}
	v.waits = make(map[uint32]*wait)
	delete(v.c.objects, v.id)
}
