// Copyright 2026 Tizen Display Team. All rights reserved.

// Package protocol defines the wire protocol spoken between the
// display manager's socket server and external clients: a unix
// stream socket carrying length-prefixed little-endian frames of
// object id, opcode and arguments.
package protocol

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
)

// SocketName is the well-known name the server binds under the
// runtime directory.
const SocketName = "tdm-socket"

// RootObjectID is the pre-bound root object every connection
// starts with.
const RootObjectID = 1

// Interface opcodes. Requests travel client to server, events the
// other way; both use the same frame layout.
const (
	// root requests
	RootCreateOutput = 0 // new_id, name string
	RootDebug        = 1 // command string
	RootSync         = 2 // serial

	// root events
	RootDebugDone = 0 // reply string
	RootSyncDone  = 1 // serial

	// output requests
	OutputCreateVblank = 0 // new_id
	OutputDestroy      = 1

	// output events
	OutputMode       = 0 // hdisplay, vdisplay, vrefresh
	OutputConnection = 1 // status
	OutputDPMS       = 2 // value

	// vblank requests
	VblankDestroy       = 0
	VblankSetFPS        = 1 // fps
	VblankSetOffset     = 2 // offset (signed)
	VblankSetEnableFake = 3 // bool
	VblankSetSync       = 4 // bool
	VblankWaitVblank    = 5 // req_id, req_sec, req_usec, interval

	// vblank events
	VblankDone = 0 // req_id, sequence, tv_sec, tv_usec, error
)

// headerLen is object id (4) + opcode (2) + frame size (2).
const headerLen = 8

// MaxFrameLen bounds a single frame.
const MaxFrameLen = 4096

// SocketPath returns the socket location: XDG_RUNTIME_DIR when
// set, /tmp otherwise.
func SocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, SocketName)
}

// Message is one decoded frame.
type Message struct {
	Object uint32
	Opcode uint16

	data []byte
	off  int
}

// Encoder builds one frame.
type Encoder struct {
	buf []byte
}

// NewMessage starts a frame for (object, opcode).
func NewMessage(object uint32, opcode uint16) *Encoder {
	e := &Encoder{buf: make([]byte, headerLen, 64)}
	binary.LittleEndian.PutUint32(e.buf[0:], object)
	binary.LittleEndian.PutUint16(e.buf[4:], opcode)
	return e
}

// PutUint32 appends a 32-bit argument.
func (e *Encoder) PutUint32(v uint32) *Encoder {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// PutInt32 appends a signed 32-bit argument.
func (e *Encoder) PutInt32(v int32) *Encoder {
	return e.PutUint32(uint32(v))
}

// PutString appends a length-prefixed string padded to 4 bytes.
func (e *Encoder) PutString(s string) *Encoder {
	e.PutUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
	return e
}

// Bytes finalizes the frame.
func (e *Encoder) Bytes() []byte {
	binary.LittleEndian.PutUint16(e.buf[6:], uint16(len(e.buf)))
	return e.buf
}

// ErrShortFrame means the buffer does not yet hold a whole frame.
var ErrShortFrame = errors.New("protocol: short frame")

// ErrMalformed means the stream cannot be parsed further.
var ErrMalformed = errors.New("protocol: malformed frame")

// Decode parses one frame from the head of buf, returning the
// message and the number of bytes consumed.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < headerLen {
		return Message{}, 0, ErrShortFrame
	}
	size := int(binary.LittleEndian.Uint16(buf[6:]))
	if size < headerLen || size > MaxFrameLen {
		return Message{}, 0, ErrMalformed
	}
	if len(buf) < size {
		return Message{}, 0, ErrShortFrame
	}
	m := Message{
		Object: binary.LittleEndian.Uint32(buf[0:]),
		Opcode: binary.LittleEndian.Uint16(buf[4:]),
		data:   buf[headerLen:size],
	}
	return m, size, nil
}

// Uint32 reads the next 32-bit argument.
func (m *Message) Uint32() (uint32, error) {
	if m.off+4 > len(m.data) {
		return 0, ErrMalformed
	}
	v := binary.LittleEndian.Uint32(m.data[m.off:])
	m.off += 4
	return v, nil
}

// Int32 reads the next signed 32-bit argument.
func (m *Message) Int32() (int32, error) {
	v, err := m.Uint32()
	return int32(v), err
}

// String reads the next length-prefixed string.
func (m *Message) String() (string, error) {
	n, err := m.Uint32()
	if err != nil {
		return "", err
	}
	if m.off+int(n) > len(m.data) {
		return "", ErrMalformed
	}
	s := string(m.data[m.off : m.off+int(n)])
	m.off += int(n)
	for m.off%4 != 0 && m.off < len(m.data) {
		m.off++
	}
	return s, nil
}
