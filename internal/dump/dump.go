// Copyright 2026 Tizen Display Team. All rights reserved.

// Package dump writes framebuffer contents to disk for debugging:
// PNG for 32-bit RGB layouts, raw planar bytes for everything
// else. It operates on plain byte slices so it stays independent
// of the buffer allocator.
package dump

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Image describes one mapped buffer.
type Image struct {
	Width  uint32
	Height uint32
	Stride uint32
	FourCC uint32
	Data   []byte
}

func fourccString(v uint32) string {
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func isRGB32(v uint32) bool {
	switch fourccString(v) {
	case "AR24", "XR24":
		return true
	}
	return false
}

// Write stores img at path, choosing the encoding from the
// extension: .png runs the RGB encoder, anything else dumps the
// raw bytes.
func Write(path string, img *Image) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("dump: empty image")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if strings.HasSuffix(path, ".png") {
		if !isRGB32(img.FourCC) {
			return fmt.Errorf("dump: %s is not a 32-bit RGB format", fourccString(img.FourCC))
		}
		return writePNG(path, img)
	}
	return os.WriteFile(path, img.Data, 0o644)
}

// writePNG converts the BGRA scanlines into a tightly packed RGBA
// image and encodes it.
func writePNG(path string, img *Image) error {
	w, h := int(img.Width), int(img.Height)
	stride := int(img.Stride)
	if stride < w*4 || len(img.Data) < stride*h {
		return fmt.Errorf("dump: short buffer (%d bytes for %dx%d stride %d)",
			len(img.Data), w, h, stride)
	}

	// The scanout layout is BGRA in memory; swizzle into RGBA
	// while honoring the source stride.
	src := &image.RGBA{Pix: make([]byte, stride*h), Stride: stride, Rect: image.Rect(0, 0, w, h)}
	for y := 0; y < h; y++ {
		row := img.Data[y*stride : y*stride+w*4]
		out := src.Pix[y*stride:]
		for x := 0; x < w*4; x += 4 {
			out[x+0] = row[x+2]
			out[x+1] = row[x+1]
			out[x+2] = row[x+0]
			out[x+3] = row[x+3]
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Copy(dst, image.Point{}, src, src.Bounds(), xdraw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, dst)
}
