// Copyright 2026 Tizen Display Team. All rights reserved.

package dump

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func fourcc(s string) uint32 {
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
}

func TestWritePNG(t *testing.T) {
	const w, h, stride = 8, 4, 40 // stride wider than w*4
	data := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*stride+x*4+0] = 0xff // B
			data[y*stride+x*4+2] = 0x80 // R
			data[y*stride+x*4+3] = 0xff
		}
	}
	path := filepath.Join(t.TempDir(), "out.png")
	err := Write(path, &Image{Width: w, Height: h, Stride: stride, FourCC: fourcc("AR24"), Data: data})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		t.Fatalf("decoded %v, want %dx%d", img.Bounds(), w, h)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 0x80 || g != 0 || b>>8 != 0xff {
		t.Errorf("pixel = (%#x,%#x,%#x), want swizzled (0x80,0,0xff)", r>>8, g>>8, b>>8)
	}
}

func TestWritePNGWrongFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	err := Write(path, &Image{Width: 2, Height: 2, Stride: 2, FourCC: fourcc("NV12"), Data: make([]byte, 6)})
	if err == nil {
		t.Fatal("png dump of a YUV buffer succeeded")
	}
}

func TestWriteRaw(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6}
	path := filepath.Join(t.TempDir(), "frame_2x2_NV12.yuv")
	if err := Write(path, &Image{Width: 2, Height: 2, Stride: 2, FourCC: fourcc("NV12"), Data: data}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("raw dump mismatch")
	}
}
