// Copyright 2026 Tizen Display Team. All rights reserved.

// tdm-test-server initializes the display manager with the
// virtual backend, drives every connected output through a mode
// set and a stream of commits, and serves wire clients until
// interrupted.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tizenorg/tdm"
	_ "github.com/tizenorg/tdm/backend/virtual"
	"github.com/tizenorg/tdm/surface"
)

var (
	frames   = flag.Int("frames", 600, "commits per output before idling")
	useQueue = flag.Bool("queue", false, "drive the primary layer through a buffer queue")
	testPP   = flag.Bool("pp", false, "exercise the post-processor once")
	capture  = flag.Bool("capture", false, "capture each driven output once after its commits")
)

func main() {
	flag.Parse()

	d, err := tdm.Init()
	if err != tdm.ErrNone {
		log.Fatalf("init: %v", err)
	}
	defer tdm.Deinit(d)

	count, _ := d.OutputCount()
	fmt.Printf("%d output(s)\n", count)

	g := new(errgroup.Group)
	for i := 0; i < count; i++ {
		o, err := d.GetOutput(i)
		if err != tdm.ErrNone {
			log.Fatalf("output %d: %v", i, err)
		}
		printOutput(o, i)

		status, _ := o.ConnStatus()
		if status == tdm.ConnStatusDisconnected {
			continue
		}
		g.Go(func() error { return driveOutput(d, o) })
	}

	if *testPP {
		g.Go(func() error { return drivePP(d) })
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		tdm.Deinit(d)
		os.Exit(0)
	}()

	go func() {
		if err := g.Wait(); err != nil {
			log.Printf("test: %v", err)
			return
		}
		fmt.Println("idle; serving clients (^C to quit)")
	}()

	// the worker thread dispatches hardware events; this loop
	// drains handlers owned by the main thread
	for {
		if e := d.HandleEvents(); e != tdm.ErrNone {
			return
		}
	}
}

func printOutput(o *tdm.Output, index int) {
	maker, model, name, _ := o.ModelInfo()
	status, _ := o.ConnStatus()
	typ, _ := o.Type()
	modes, _ := o.AvailableModes()
	layers, _ := o.LayerCount()
	fmt.Printf("output %d: %s %s %s [%s] %s, %d mode(s), %d layer(s)\n",
		index, maker, model, name, typ, status, len(modes), layers)
}

// driveOutput sets the preferred mode and pushes frames frames
// through the primary layer.
func driveOutput(d *tdm.Display, o *tdm.Output) error {
	modes, _ := o.AvailableModes()
	if len(modes) == 0 {
		return fmt.Errorf("no modes")
	}
	mode := &modes[0]
	if err := o.SetMode(mode); err != tdm.ErrNone {
		return fmt.Errorf("set mode: %v", err)
	}
	if err := o.SetDPMS(tdm.DPMSOn); err != tdm.ErrNone {
		return fmt.Errorf("dpms on: %v", err)
	}

	layer, err := o.GetLayer(0)
	if err != tdm.ErrNone {
		return fmt.Errorf("layer 0: %v", err)
	}

	if *useQueue {
		return driveQueue(o, layer, mode)
	}

	bufs := make([]*surface.Buffer, 2)
	for i := range bufs {
		b, aerr := surface.Alloc(mode.HDisplay, mode.VDisplay, tdm.FormatARGB8888)
		if aerr != nil {
			return aerr
		}
		defer b.Unref()
		fill(b, uint32(i))
		bufs[i] = b
	}

	committed := make(chan struct{}, 1)
	for i := 0; i < *frames; i++ {
		if err := layer.SetBuffer(bufs[i%2]); err != tdm.ErrNone {
			return fmt.Errorf("set buffer: %v", err)
		}
		err := o.Commit(0, func(oo *tdm.Output, seq, sec, usec uint32, ud any) {
			committed <- struct{}{}
		}, nil)
		if err != tdm.ErrNone {
			return fmt.Errorf("commit: %v", err)
		}
		select {
		case <-committed:
		case <-time.After(time.Second):
			return fmt.Errorf("commit %d timed out", i)
		}
	}
	pipe, _ := o.Pipe()
	fmt.Printf("output %d: %d commits done\n", pipe, *frames)

	if *capture {
		return driveCapture(o, mode)
	}
	return nil
}

// driveQueue exercises the layer buffer-queue binding.
func driveQueue(o *tdm.Output, layer *tdm.Layer, mode *tdm.Mode) error {
	q, err := surface.NewQueue(3, mode.HDisplay, mode.VDisplay, tdm.FormatARGB8888)
	if err != nil {
		return err
	}
	defer q.Destroy()

	if e := layer.SetBufferQueue(q); e != tdm.ErrNone {
		return fmt.Errorf("set queue: %v", e)
	}
	for i := 0; i < *frames; i++ {
		b, derr := q.Dequeue()
		if derr != nil {
			time.Sleep(time.Millisecond)
			continue
		}
		fill(b, uint32(i))
		q.Enqueue(b)
		time.Sleep(16 * time.Millisecond)
	}
	if e := layer.UnsetBufferQueue(); e != tdm.ErrNone {
		return fmt.Errorf("unset queue: %v", e)
	}
	return nil
}

func drivePP(d *tdm.Display) error {
	pp, err := d.CreatePP()
	if err != tdm.ErrNone {
		return fmt.Errorf("create pp: %v", err)
	}
	defer pp.Destroy()

	src, _ := surface.Alloc(1920, 1080, tdm.FormatARGB8888)
	dst, _ := surface.Alloc(1280, 720, tdm.FormatARGB8888)
	defer src.Unref()
	defer dst.Unref()

	info := &tdm.PPInfo{
		SrcConfig: tdm.Config{Size: tdm.Size{H: 1920, V: 1080}, Format: tdm.FormatARGB8888},
		DstConfig: tdm.Config{Size: tdm.Size{H: 1280, V: 720}, Format: tdm.FormatARGB8888},
	}
	if e := pp.SetInfo(info); e != tdm.ErrNone && e != tdm.ErrNotImplemented {
		return fmt.Errorf("pp info: %v", e)
	}
	if e := pp.Attach(src, dst); e != tdm.ErrNone {
		return fmt.Errorf("pp attach: %v", e)
	}
	done := make(chan struct{}, 1)
	tdm.AddBufferReleaseHandler(dst, func(b tdm.Surface, ud any) {
		select {
		case done <- struct{}{}:
		default:
		}
	}, nil)
	if e := pp.Commit(); e != tdm.ErrNone {
		return fmt.Errorf("pp commit: %v", e)
	}
	select {
	case <-done:
		fmt.Println("pp: converted one frame")
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("pp timed out")
	}
}

func driveCapture(o *tdm.Output, mode *tdm.Mode) error {
	c, err := o.CreateCapture()
	if err != tdm.ErrNone {
		return fmt.Errorf("create capture: %v", err)
	}
	defer c.Destroy()

	dst, _ := surface.Alloc(mode.HDisplay, mode.VDisplay, tdm.FormatARGB8888)
	defer dst.Unref()

	info := &tdm.CaptureInfo{
		DstConfig:   tdm.Config{Size: tdm.Size{H: mode.HDisplay, V: mode.VDisplay}, Format: tdm.FormatARGB8888},
		OneshotMode: true,
	}
	if e := c.SetInfo(info); e != tdm.ErrNone && e != tdm.ErrNotImplemented {
		return fmt.Errorf("capture info: %v", e)
	}
	done := make(chan struct{}, 1)
	c.SetDoneHandler(func(cc *tdm.Capture, b tdm.Surface, ud any) {
		select {
		case done <- struct{}{}:
		default:
		}
	}, nil)
	if e := c.Attach(dst); e != tdm.ErrNone {
		return fmt.Errorf("capture attach: %v", e)
	}
	if e := c.Commit(); e != tdm.ErrNone {
		return fmt.Errorf("capture commit: %v", e)
	}
	select {
	case <-done:
		fmt.Println("capture: one frame read back")
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("capture timed out")
	}
}

// fill paints a frame-indexed test pattern.
func fill(b *surface.Buffer, frame uint32) {
	data, err := b.Map()
	if err != nil {
		return
	}
	defer b.Unmap()
	info := b.Info()
	for y := uint32(0); y < info.Height; y++ {
		row := data[y*info.Planes[0].Stride:]
		for x := uint32(0); x < info.Width; x++ {
			row[x*4+0] = byte(x + frame) // B
			row[x*4+1] = byte(y + frame) // G
			row[x*4+2] = byte(frame)     // R
			row[x*4+3] = 0xff
		}
	}
}
