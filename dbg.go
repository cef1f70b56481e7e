// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap/zapcore"

	"github.com/tizenorg/tdm/internal/dump"
)

// Runtime dump state. When a directory is configured and the
// counter is non-zero, every layer set-buffer, PP attach/done and
// capture done additionally writes the buffer contents to disk:
// PNG for 32-bit RGB formats, raw planar data for YUV.
var (
	dumpMu      sync.Mutex
	dumpDir     string
	dumpCount   atomic.Int32
	dumpPPSrcNo atomic.Int32
	dumpPPDstNo atomic.Int32
)

func init() {
	if v := envDumpSpec(); v != "" {
		setDumpDir(v)
	}
}

// setDumpDir enables dumping into dir; empty disables.
func setDumpDir(dir string) {
	dumpMu.Lock()
	dumpDir = dir
	dumpMu.Unlock()
	if dir != "" {
		dumpCount.Store(1)
	} else {
		dumpCount.Store(0)
	}
}

func dumpPath() string {
	dumpMu.Lock()
	defer dumpMu.Unlock()
	return dumpDir
}

// setLogLevel maps a textual level onto the zap atomic level.
func setLogLevel(level string) bool {
	var l zapcore.Level
	switch level {
	case "debug":
		l = zapcore.DebugLevel
	case "info":
		l = zapcore.InfoLevel
	case "warn", "warning":
		l = zapcore.WarnLevel
	case "error":
		l = zapcore.ErrorLevel
	default:
		return false
	}
	logLevel.SetLevel(l)
	return true
}

// dumpSurface writes one surface under the configured directory.
func dumpSurface(buffer Surface, name string) {
	dir := dumpPath()
	if dir == "" {
		return
	}
	data, err := buffer.Map()
	if err != nil {
		log().Errorf("dump: map failed: %v", err)
		return
	}
	defer buffer.Unmap()

	info := buffer.Info()
	img := dump.Image{
		Width:  info.Width,
		Height: info.Height,
		Stride: info.Planes[0].Stride,
		FourCC: uint32(info.Format),
		Data:   data,
	}
	full := filepath.Join(dir, name)
	if werr := dump.Write(full, &img); werr != nil {
		log().Errorf("dump %s: %v", full, werr)
		return
	}
	log().Debugf("dumped %s", full)
}

// dumpLayerBuffer names layer dumps by counter, pipe and zpos.
// Lock held; the write itself happens on mapped bytes only.
func dumpLayerBuffer(l *Layer, buffer Surface) {
	count := dumpCount.Load()
	if count <= 0 || dumpPath() == "" {
		return
	}
	dumpCount.Add(1)

	info := buffer.Info()
	var name string
	if info.Format == FormatARGB8888 || info.Format == FormatXRGB8888 {
		name = fmt.Sprintf("%03d_out_%d_lyr_%d.png", count, l.output.pipe, l.caps.Zpos)
	} else {
		name = fmt.Sprintf("%03d_out_%d_lyr_%d_%dx%d_%s.yuv",
			count, l.output.pipe, l.caps.Zpos,
			info.Planes[0].Stride, info.Height, info.Format)
	}
	dumpSurface(buffer, name)
}

// dumpPPBuffer names post-processor dumps by direction and a
// running number.
func dumpPPBuffer(buffer Surface, src bool) {
	if dumpCount.Load() <= 0 || dumpPath() == "" {
		return
	}
	var name string
	if src {
		name = fmt.Sprintf("pp_src_%03d", dumpPPSrcNo.Add(1)-1)
	} else {
		name = fmt.Sprintf("pp_dst_%03d", dumpPPDstNo.Add(1)-1)
	}
	info := buffer.Info()
	if info.Format == FormatARGB8888 || info.Format == FormatXRGB8888 {
		name += ".png"
	} else {
		name += fmt.Sprintf("_%dx%d_%s.yuv", info.Planes[0].Stride, info.Height, info.Format)
	}
	dumpSurface(buffer, name)
}

// dumpCaptureBuffer names capture dumps by object and timestamp.
func dumpCaptureBuffer(c *Capture, buffer Surface) {
	if dumpCount.Load() <= 0 || dumpPath() == "" {
		return
	}
	info := buffer.Info()
	name := fmt.Sprintf("capture_%d_%d", c.stamp, getTimeMicros())
	if info.Format == FormatARGB8888 || info.Format == FormatXRGB8888 {
		name += ".png"
	} else {
		name += fmt.Sprintf("_%dx%d_%s.yuv", info.Planes[0].Stride, info.Height, info.Format)
	}
	dumpSurface(buffer, name)
}
