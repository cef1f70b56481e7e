// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm_test

import (
	"testing"

	"github.com/tizenorg/tdm"
	"github.com/tizenorg/tdm/surface"
)

func allocBuffer(t *testing.T) *surface.Buffer {
	t.Helper()
	b, err := surface.Alloc(64, 64, tdm.FormatARGB8888)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return b
}

func TestBufferReleaseHandlers(t *testing.T) {
	b := allocBuffer(t)
	defer b.Unref()

	var order []int
	tdm.AddBufferReleaseHandler(b, func(tdm.Surface, any) { order = append(order, 1) }, nil)
	tdm.AddBufferReleaseHandler(b, func(tdm.Surface, any) { order = append(order, 2) }, nil)

	tdm.RefBufferBackend(b)
	tdm.RefBufferBackend(b)
	tdm.UnrefBufferBackend(b)
	if len(order) != 0 {
		t.Fatalf("release fired with refs outstanding: %v", order)
	}
	tdm.UnrefBufferBackend(b)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("release order = %v, want [1 2]", order)
	}

	// a second cycle fires again, exactly once
	order = nil
	tdm.RefBufferBackend(b)
	tdm.UnrefBufferBackend(b)
	if len(order) != 2 {
		t.Fatalf("second cycle fired %d handlers, want 2", len(order))
	}
}

func TestBufferRemoveReleaseHandler(t *testing.T) {
	b := allocBuffer(t)
	defer b.Unref()

	var fired []string
	fn := func(s tdm.Surface, ud any) { fired = append(fired, ud.(string)) }
	tdm.AddBufferReleaseHandler(b, fn, "a")
	tdm.AddBufferReleaseHandler(b, fn, "b")
	tdm.RemoveBufferReleaseHandler(b, fn, "a")

	tdm.RefBufferBackend(b)
	tdm.UnrefBufferBackend(b)
	if len(fired) != 1 || fired[0] != "b" {
		t.Fatalf("fired = %v, want [b]", fired)
	}
}

func TestBufferDestroyHandlers(t *testing.T) {
	b := allocBuffer(t)

	var events []string
	tdm.AddBufferReleaseHandler(b, func(tdm.Surface, any) { events = append(events, "release") }, nil)
	tdm.AddBufferDestroyHandler(b, func(tdm.Surface, any) { events = append(events, "destroy") }, nil)

	tdm.RefBufferBackend(b)
	tdm.UnrefBufferBackend(b)
	b.Unref()

	if len(events) != 2 || events[0] != "release" || events[1] != "destroy" {
		t.Fatalf("events = %v, want [release destroy]", events)
	}

	// destroy fires exactly once
	count := 0
	for _, e := range events {
		if e == "destroy" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("destroy fired %d times", count)
	}
}

func TestBufferDestroyHandlerRemove(t *testing.T) {
	b := allocBuffer(t)

	fired := false
	fn := func(tdm.Surface, any) { fired = true }
	tdm.AddBufferDestroyHandler(b, fn, nil)
	tdm.RemoveBufferDestroyHandler(b, fn, nil)
	b.Unref()

	if fired {
		t.Fatal("removed destroy handler fired")
	}
}
