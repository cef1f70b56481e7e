// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tizenorg/tdm/protocol"
)

// server exposes outputs and vblanks to external client processes
// over a unix socket. All request processing happens on the loop
// thread; smu only guards the outbound buffers that flush touches
// from other threads.
type server struct {
	d *Display

	listenFD int
	source   *EventSource
	path     string

	smu     sync.Mutex
	clients map[int]*serverClient
}

// serverClient is one connected process.
type serverClient struct {
	s  *server
	fd int

	source *EventSource

	in  []byte
	out []byte

	objects map[uint32]any
	closed  bool
}

// serverOutput is a per-client output resource.
type serverOutput struct {
	client *serverClient
	id     uint32
	output *Output

	vblanks []*serverVblank

	changeCB OutputChangeHandler
}

// serverVblank is a per-client vblank resource.
type serverVblank struct {
	client *serverClient
	id     uint32
	owner  *serverOutput
	vblank *Vblank
}

// serverInit binds the socket and starts accepting. Called at
// display init, before the backend loads; output resolution
// happens per request.
func serverInit(d *Display) Error {
	path := protocol.SocketPath()
	os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		log().Errorf("socket: %v", err)
		return ErrOperationFailed
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		log().Errorf("bind %s: %v", path, err)
		return ErrOperationFailed
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		os.Remove(path)
		log().Errorf("listen: %v", err)
		return ErrOperationFailed
	}

	s := &server{
		d:        d,
		listenFD: fd,
		path:     path,
		clients:  make(map[int]*serverClient),
	}
	src, e := d.loop.addFD(fd, EventLoopReadable, s.accept, nil)
	if e != ErrNone {
		unix.Close(fd)
		os.Remove(path)
		return e
	}
	s.source = src
	d.server = s

	log().Infof("server listening on %s", path)
	return ErrNone
}

// serverDeinit closes every client and the listener. Lock held.
func (d *Display) serverDeinit() {
	s := d.server
	if s == nil {
		return
	}
	s.smu.Lock()
	clients := make([]*serverClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.smu.Unlock()
	for _, c := range clients {
		c.destroy()
	}
	s.source.Remove()
	unix.Close(s.listenFD)
	os.Remove(s.path)
	d.server = nil
}

// accept runs as an fd-source handler, lock held.
func (s *server) accept(fd int, mask EventLoopMask, userData any) Error {
	for {
		cfd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN {
			return ErrNone
		}
		if err != nil {
			log().Errorf("accept: %v", err)
			return ErrOperationFailed
		}

		c := &serverClient{
			s:       s,
			fd:      cfd,
			objects: make(map[uint32]any),
		}
		src, e := s.d.loop.addFD(cfd, EventLoopReadable, c.readable, nil)
		if e != ErrNone {
			unix.Close(cfd)
			continue
		}
		c.source = src
		s.smu.Lock()
		s.clients[cfd] = c
		s.smu.Unlock()

		log().Infof("client fd %d connected", cfd)
	}
}

// readable drains the client socket and processes complete frames.
// Runs as an fd-source handler with the lock held; the lock is
// dropped around request processing, which re-enters the frontend
// API.
func (c *serverClient) readable(fd int, mask EventLoopMask, userData any) Error {
	d := c.s.d

	if mask&(EventLoopHangup|EventLoopError) != 0 {
		c.destroy()
		return ErrNone
	}

	var buf [1024]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		if err == unix.EAGAIN {
			break
		}
		if err != nil || n == 0 {
			c.destroy()
			return ErrNone
		}
		c.in = append(c.in, buf[:n]...)
		if n < len(buf) {
			break
		}
	}

	d.mu.Unlock()
	for !c.closed {
		m, consumed, err := protocol.Decode(c.in)
		if err == protocol.ErrShortFrame {
			break
		}
		if err != nil {
			log().Errorf("client fd %d: %v", c.fd, err)
			c.destroyUnlocked()
			break
		}
		c.in = c.in[consumed:]
		c.dispatch(&m)
	}
	d.mu.Lock()
	return ErrNone
}

// dispatch handles one request. Called without the lock held.
func (c *serverClient) dispatch(m *protocol.Message) {
	if m.Object == protocol.RootObjectID {
		c.dispatchRoot(m)
		return
	}
	obj, ok := c.objects[m.Object]
	if !ok {
		log().Warnf("client fd %d: unknown object %d", c.fd, m.Object)
		return
	}
	switch res := obj.(type) {
	case *serverOutput:
		c.dispatchOutput(res, m)
	case *serverVblank:
		c.dispatchVblank(res, m)
	}
}

func (c *serverClient) dispatchRoot(m *protocol.Message) {
	switch m.Opcode {
	case protocol.RootCreateOutput:
		id, err := m.Uint32()
		if err != nil {
			return
		}
		name, err := m.String()
		if err != nil {
			return
		}
		c.createOutput(id, name)
	case protocol.RootDebug:
		cmd, err := m.String()
		if err != nil {
			return
		}
		reply := handleDebugCommand(cmd)
		c.send(protocol.NewMessage(protocol.RootObjectID, protocol.RootDebugDone).
			PutString(reply).Bytes())
	case protocol.RootSync:
		serial, err := m.Uint32()
		if err != nil {
			return
		}
		c.send(protocol.NewMessage(protocol.RootObjectID, protocol.RootSyncDone).
			PutUint32(serial).Bytes())
	}
}

// createOutput resolves name to an output and minting the client
// resource. "primary" and "default" alias index 0; anything else
// matches the model string.
func (c *serverClient) createOutput(id uint32, name string) {
	d := c.s.d

	var output *Output
	d.mu.Lock()
	if name == "primary" || name == "default" {
		if len(d.outputs) > 0 {
			output = d.outputs[0]
		}
	} else {
		for _, o := range d.outputs {
			if o.caps.Model == name {
				output = o
				break
			}
		}
	}
	d.mu.Unlock()

	if output == nil {
		log().Errorf("client fd %d: no output %q", c.fd, name)
		return
	}

	so := &serverOutput{client: c, id: id, output: output}
	c.objects[id] = so

	so.changeCB = func(o *Output, typ ChangeType, value Value, userData any) {
		switch typ {
		case ChangeConnection:
			c.send(protocol.NewMessage(so.id, protocol.OutputConnection).
				PutUint32(value.U32).Bytes())
		case ChangeDPMS:
			c.send(protocol.NewMessage(so.id, protocol.OutputDPMS).
				PutUint32(value.U32).Bytes())
		}
	}
	output.AddChangeHandler(so.changeCB, so)

	// initial state burst
	if mode, err := output.GetMode(); err == ErrNone && mode != nil {
		c.send(protocol.NewMessage(id, protocol.OutputMode).
			PutUint32(mode.HDisplay).PutUint32(mode.VDisplay).
			PutUint32(mode.VRefresh).Bytes())
	}
	if status, err := output.ConnStatus(); err == ErrNone {
		c.send(protocol.NewMessage(id, protocol.OutputConnection).
			PutUint32(uint32(status)).Bytes())
	}
	if dpms, err := output.GetDPMS(); err == ErrNone {
		c.send(protocol.NewMessage(id, protocol.OutputDPMS).
			PutUint32(uint32(dpms)).Bytes())
	}
}

func (c *serverClient) dispatchOutput(so *serverOutput, m *protocol.Message) {
	switch m.Opcode {
	case protocol.OutputCreateVblank:
		id, err := m.Uint32()
		if err != nil {
			return
		}
		v, e := c.s.d.CreateVblank(so.output)
		if e != ErrNone {
			log().Errorf("client fd %d: create vblank: %v", c.fd, e)
			return
		}
		sv := &serverVblank{client: c, id: id, owner: so, vblank: v}
		so.vblanks = append(so.vblanks, sv)
		c.objects[id] = sv
	case protocol.OutputDestroy:
		so.destroy()
	}
}

// destroy releases the output resource, its vblanks first.
func (so *serverOutput) destroy() {
	for len(so.vblanks) > 0 {
		so.vblanks[0].destroy()
	}
	so.output.RemoveChangeHandler(so.changeCB, so)
	delete(so.client.objects, so.id)
}

func (c *serverClient) dispatchVblank(sv *serverVblank, m *protocol.Message) {
	switch m.Opcode {
	case protocol.VblankDestroy:
		sv.destroy()
	case protocol.VblankSetFPS:
		fps, err := m.Uint32()
		if err != nil {
			return
		}
		sv.vblank.SetFPS(fps)
	case protocol.VblankSetOffset:
		offset, err := m.Int32()
		if err != nil {
			return
		}
		sv.vblank.SetOffset(int(offset))
	case protocol.VblankSetEnableFake:
		v, err := m.Uint32()
		if err != nil {
			return
		}
		sv.vblank.SetEnableFake(v != 0)
	case protocol.VblankSetSync:
		// sync is client-side behavior; the value is read and
		// ignored, and the server always waits asynchronously
		m.Uint32()
	case protocol.VblankWaitVblank:
		reqID, err := m.Uint32()
		if err != nil {
			return
		}
		reqSec, err := m.Uint32()
		if err != nil {
			return
		}
		reqUsec, err := m.Uint32()
		if err != nil {
			return
		}
		interval, err := m.Uint32()
		if err != nil {
			return
		}
		sv.wait(reqID, reqSec, reqUsec, interval)
	}
}

// wait converts the request into an engine wait and forwards the
// reply as a done event.
func (sv *serverVblank) wait(reqID, reqSec, reqUsec, interval uint32) {
	c := sv.client
	id := sv.id
	err := sv.vblank.Wait(reqSec, reqUsec, interval,
		func(v *Vblank, e Error, sequence, tvSec, tvUsec uint32, userData any) {
			c.send(protocol.NewMessage(id, protocol.VblankDone).
				PutUint32(reqID).PutUint32(sequence).
				PutUint32(tvSec).PutUint32(tvUsec).
				PutUint32(uint32(e)).Bytes())
		}, nil)
	if err != ErrNone {
		c.send(protocol.NewMessage(id, protocol.VblankDone).
			PutUint32(reqID).PutUint32(0).PutUint32(0).PutUint32(0).
			PutUint32(uint32(err)).Bytes())
	}
}

// destroy cancels the engine vblank and every outstanding wait.
func (sv *serverVblank) destroy() {
	sv.vblank.Destroy()
	for i, e := range sv.owner.vblanks {
		if e == sv {
			sv.owner.vblanks = append(sv.owner.vblanks[:i], sv.owner.vblanks[i+1:]...)
			break
		}
	}
	delete(sv.client.objects, sv.id)
}

// send queues an event frame for the client.
func (c *serverClient) send(frame []byte) {
	s := c.s
	s.smu.Lock()
	if !c.closed {
		c.out = append(c.out, frame...)
	}
	s.smu.Unlock()
}

// flush writes queued events out, keeping what the socket does not
// take. Called with the display lock held from the worker loop and
// the bridge drain.
func (s *server) flush() {
	s.smu.Lock()
	defer s.smu.Unlock()
	for _, c := range s.clients {
		for len(c.out) > 0 {
			n, err := unix.Write(c.fd, c.out)
			if err == unix.EAGAIN {
				break
			}
			if err != nil {
				c.out = nil
				break
			}
			c.out = c.out[n:]
		}
	}
}

// destroy tears one client down. Display lock held.
func (c *serverClient) destroy() {
	if c.closed {
		return
	}
	c.closed = true

	d := c.s.d
	d.mu.Unlock()
	c.releaseResources()
	d.mu.Lock()

	c.source.Remove()
	c.s.smu.Lock()
	delete(c.s.clients, c.fd)
	c.s.smu.Unlock()
	unix.Close(c.fd)
	log().Infof("client fd %d disconnected", c.fd)
}

// destroyUnlocked is destroy for the request-processing path,
// where the display lock is dropped.
func (c *serverClient) destroyUnlocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.releaseResources()

	d := c.s.d
	d.mu.Lock()
	c.source.Remove()
	d.mu.Unlock()

	c.s.smu.Lock()
	delete(c.s.clients, c.fd)
	c.s.smu.Unlock()
	unix.Close(c.fd)
	log().Infof("client fd %d disconnected", c.fd)
}

// releaseResources destroys the client's resources, outputs after
// their vblanks. Called without the display lock held.
func (c *serverClient) releaseResources() {
	var outputs []*serverOutput
	for _, obj := range c.objects {
		if so, ok := obj.(*serverOutput); ok {
			outputs = append(outputs, so)
		}
	}
	for _, so := range outputs {
		so.destroy()
	}
	c.objects = make(map[uint32]any)
}

// handleDebugCommand executes one debug-channel command and
// returns the reply text.
func handleDebugCommand(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "usage: dump <dir|off> | log_level <level> | debug <module> <0|1>"
	}
	switch fields[0] {
	case "dump":
		if len(fields) < 2 {
			return "dump: missing argument"
		}
		if fields[1] == "off" {
			setDumpDir("")
			return "dump off"
		}
		setDumpDir(fields[1])
		return fmt.Sprintf("dump to %s", fields[1])
	case "log_level":
		if len(fields) < 2 {
			return "log_level: missing argument"
		}
		if !setLogLevel(fields[1]) {
			return fmt.Sprintf("unknown level %q", fields[1])
		}
		return fmt.Sprintf("log_level %s", fields[1])
	case "debug":
		if len(fields) < 3 {
			return "debug: missing argument"
		}
		enable := fields[2] != "0"
		if !setDebugModule(fields[1], enable) {
			return fmt.Sprintf("unknown module %q", fields[1])
		}
		return fmt.Sprintf("debug %s %v", fields[1], enable)
	}
	return fmt.Sprintf("unknown command %q", fields[0])
}
