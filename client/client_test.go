// Copyright 2026 Tizen Display Team. All rights reserved.

package client_test

import (
	"testing"
	"time"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/backend/virtual"
	"github.com/tizenorg/tdm/client"
)

// startServer brings up a threaded display on the virtual backend
// so the worker serves the socket while the test acts as a client
// process.
func startServer(t *testing.T) *tdm.Display {
	t.Helper()
	t.Setenv("TDM_THREAD", "1")
	t.Setenv("TDM_MODULE", virtual.ModuleName)
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	d, err := tdm.Init()
	if err != tdm.ErrNone {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { tdm.Deinit(d) })

	o, err := d.GetOutput(0)
	if err != tdm.ErrNone {
		t.Fatalf("GetOutput: %v", err)
	}
	modes, _ := o.AvailableModes()
	if err := o.SetMode(&modes[0]); err != tdm.ErrNone {
		t.Fatalf("SetMode: %v", err)
	}
	if err := o.SetDPMS(tdm.DPMSOn); err != tdm.ErrNone {
		t.Fatalf("SetDPMS: %v", err)
	}
	return d
}

func TestClientBindPrimary(t *testing.T) {
	startServer(t)

	c, err := client.Connect()
	if err != tdm.ErrNone {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy()

	o, err := c.CreateOutput("primary")
	if err != tdm.ErrNone {
		t.Fatalf("CreateOutput: %v", err)
	}
	w, h, r, _ := o.Mode()
	if w != 1920 || h != 1080 || r != 60 {
		t.Errorf("mode = %dx%d@%d, want 1920x1080@60", w, h, r)
	}
	status, _ := o.ConnStatus()
	if status != tdm.ConnStatusConnected && status != tdm.ConnStatusModeSetted {
		t.Errorf("status = %s, want connected", status)
	}
	dpms, _ := o.DPMS()
	if dpms != tdm.DPMSOn {
		t.Errorf("dpms = %s, want on", dpms)
	}
}

func TestClientUnknownOutput(t *testing.T) {
	startServer(t)

	c, err := client.Connect()
	if err != tdm.ErrNone {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy()

	if _, err := c.CreateOutput("no-such-model"); err == tdm.ErrNone {
		t.Fatal("binding an unknown output succeeded")
	}
}

func TestClientVblankWait(t *testing.T) {
	startServer(t)

	c, err := client.Connect()
	if err != tdm.ErrNone {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy()

	o, err := c.CreateOutput("primary")
	if err != tdm.ErrNone {
		t.Fatalf("CreateOutput: %v", err)
	}
	v, err := o.CreateVblank()
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()

	if err := v.SetFPS(60); err != tdm.ErrNone {
		t.Fatalf("SetFPS: %v", err)
	}

	var lastSeq uint32
	for i := 0; i < 3; i++ {
		fired := false
		err := v.WaitVblank(1, func(vv *client.Vblank, e tdm.Error, seq, sec, usec uint32, ud any) {
			if e != tdm.ErrNone {
				t.Errorf("wait %d: error %v", i, e)
			}
			if seq <= lastSeq {
				t.Errorf("wait %d: seq %d not increasing (prev %d)", i, seq, lastSeq)
			}
			lastSeq = seq
			fired = true
		}, nil)
		if err != tdm.ErrNone {
			t.Fatalf("WaitVblank: %v", err)
		}
		deadline := time.Now().Add(500 * time.Millisecond)
		for !fired && time.Now().Before(deadline) {
			if e := c.HandleEvents(); e != tdm.ErrNone {
				t.Fatalf("HandleEvents: %v", e)
			}
		}
		if !fired {
			t.Fatalf("wait %d not delivered", i)
		}
	}
}

func TestClientSyncWait(t *testing.T) {
	startServer(t)

	c, err := client.Connect()
	if err != tdm.ErrNone {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy()

	o, err := c.CreateOutput("primary")
	if err != tdm.ErrNone {
		t.Fatalf("CreateOutput: %v", err)
	}
	v, err := o.CreateVblank()
	if err != tdm.ErrNone {
		t.Fatalf("CreateVblank: %v", err)
	}
	defer v.Destroy()
	if err := v.SetSync(true); err != tdm.ErrNone {
		t.Fatalf("SetSync: %v", err)
	}

	fired := false
	err = v.WaitVblank(1, func(vv *client.Vblank, e tdm.Error, seq, sec, usec uint32, ud any) {
		fired = true
	}, nil)
	if err != tdm.ErrNone {
		t.Fatalf("WaitVblank: %v", err)
	}
	if !fired {
		t.Fatal("sync wait returned before the handler ran")
	}
}

func TestClientDebugChannel(t *testing.T) {
	startServer(t)

	c, err := client.Connect()
	if err != tdm.ErrNone {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy()

	if err := c.Debug("log_level debug"); err != tdm.ErrNone {
		t.Fatalf("Debug: %v", err)
	}
	// the reply is informational; a roundtrip proves the server
	// parsed the command without killing the connection
	if _, err := c.CreateOutput("primary"); err != tdm.ErrNone {
		t.Fatalf("connection unusable after debug command: %v", err)
	}
}
