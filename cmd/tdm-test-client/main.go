// Copyright 2026 Tizen Display Team. All rights reserved.

// tdm-test-client binds an output over the display manager socket
// and measures vblank delivery timing.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/client"
)

var (
	outputName = flag.String("output", "primary", "output name, or primary/default")
	fps        = flag.Uint("fps", 0, "target fps (0 keeps the output refresh)")
	offset     = flag.Int("offset", 0, "tick offset in ms")
	fake       = flag.Bool("fake", false, "keep ticking while DPMS is off")
	interval   = flag.Uint("interval", 1, "periods per wait")
	count      = flag.Int("count", 60, "waits to issue")
	sync       = flag.Bool("sync", false, "wait synchronously")
)

func main() {
	flag.Parse()

	c, err := client.Connect()
	if err != tdm.ErrNone {
		log.Fatalf("connect: %v", err)
	}
	defer c.Destroy()

	o, err := c.CreateOutput(*outputName)
	if err != tdm.ErrNone {
		log.Fatalf("output %q: %v", *outputName, err)
	}
	w, h, r, _ := o.Mode()
	status, _ := o.ConnStatus()
	dpms, _ := o.DPMS()
	fmt.Printf("output %q: %dx%d@%d %s dpms=%s\n", *outputName, w, h, r, status, dpms)

	o.AddChangeHandler(func(oo *client.Output, typ tdm.ChangeType, value tdm.Value, ud any) {
		switch typ {
		case tdm.ChangeConnection:
			fmt.Printf("connection: %s\n", tdm.ConnStatus(value.U32))
		case tdm.ChangeDPMS:
			fmt.Printf("dpms: %s\n", tdm.DPMS(value.U32))
		}
	}, nil)

	v, err := o.CreateVblank()
	if err != tdm.ErrNone {
		log.Fatalf("create vblank: %v", err)
	}
	if *fps > 0 {
		v.SetFPS(uint32(*fps))
	}
	if *offset != 0 {
		v.SetOffset(*offset)
	}
	if *fake {
		v.SetEnableFake(true)
	}
	if *sync {
		v.SetSync(true)
	}

	var lastUS uint64
	pending := 0
	handler := func(vv *client.Vblank, e tdm.Error, seq, sec, usec uint32, ud any) {
		pending--
		us := uint64(sec)*1000000 + uint64(usec)
		if e != tdm.ErrNone {
			fmt.Printf("seq %d: error %v\n", seq, e)
			return
		}
		if lastUS == 0 {
			fmt.Printf("seq %4d\n", seq)
		} else {
			fmt.Printf("seq %4d  +%6d us\n", seq, us-lastUS)
		}
		lastUS = us
	}

	for i := 0; i < *count; i++ {
		pending++
		if e := v.WaitVblank(uint32(*interval), handler, nil); e != tdm.ErrNone {
			log.Fatalf("wait: %v", e)
		}
		if !*sync {
			for pending > 0 {
				if e := c.HandleEvents(); e != tdm.ErrNone {
					log.Fatalf("handle events: %v", e)
				}
			}
		}
	}
}
