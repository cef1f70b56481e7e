// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

// DisplayCapability is a bitset of display-wide features
// advertised by the backend.
type DisplayCapability uint32

// Display capabilities.
const (
	DisplayCapabilityPP DisplayCapability = 1 << iota
	DisplayCapabilityCapture
)

// OutputType identifies the physical connector of an output.
type OutputType uint32

// Output connector types, numerically compatible with libdrm.
const (
	OutputTypeUnknown OutputType = iota
	OutputTypeVGA
	OutputTypeDVII
	OutputTypeDVID
	OutputTypeDVIA
	OutputTypeComposite
	OutputTypeSVIDEO
	OutputTypeLVDS
	OutputTypeComponent
	OutputType9PinDIN
	OutputTypeDisplayPort
	OutputTypeHDMIA
	OutputTypeHDMIB
	OutputTypeTV
	OutputTypeEDP
	OutputTypeVirtual
	OutputTypeDSI
)

var outputTypeStrings = map[OutputType]string{
	OutputTypeUnknown:     "Unknown",
	OutputTypeVGA:         "VGA",
	OutputTypeDVII:        "DVII",
	OutputTypeDVID:        "DVID",
	OutputTypeDVIA:        "DVIA",
	OutputTypeComposite:   "Composite",
	OutputTypeSVIDEO:      "SVIDEO",
	OutputTypeLVDS:        "LVDS",
	OutputTypeComponent:   "Component",
	OutputType9PinDIN:     "9PinDIN",
	OutputTypeDisplayPort: "DisplayPort",
	OutputTypeHDMIA:       "HDMIA",
	OutputTypeHDMIB:       "HDMIB",
	OutputTypeTV:          "TV",
	OutputTypeEDP:         "eDP",
	OutputTypeVirtual:     "Virtual",
	OutputTypeDSI:         "DSI",
}

func (t OutputType) String() string {
	if s, ok := outputTypeStrings[t]; ok {
		return s
	}
	return "Unknown"
}

// ConnStatus is the connection status of an output.
type ConnStatus uint32

// Connection statuses.
const (
	ConnStatusDisconnected ConnStatus = iota
	ConnStatusConnected
	ConnStatusModeSetted
)

func (s ConnStatus) String() string {
	switch s {
	case ConnStatusDisconnected:
		return "disconnected"
	case ConnStatusConnected:
		return "connected"
	case ConnStatusModeSetted:
		return "mode_setted"
	}
	return "unknown"
}

// DPMS is a per-output power state.
// The values are chosen for libdrm compatibility.
type DPMS uint32

// DPMS values.
const (
	DPMSOn DPMS = iota
	DPMSStandBy
	DPMSSuspend
	DPMSOff
)

func (d DPMS) String() string {
	switch d {
	case DPMSOn:
		return "on"
	case DPMSStandBy:
		return "standby"
	case DPMSSuspend:
		return "suspend"
	case DPMSOff:
		return "off"
	}
	return "unknown"
}

// ChangeType identifies which output attribute changed.
type ChangeType uint32

// Output change types.
const (
	ChangeConnection ChangeType = iota
	ChangeDPMS
)

// LayerCapability is a bitset describing a hardware plane.
type LayerCapability uint32

// Layer capabilities.
const (
	LayerCapabilityCursor LayerCapability = 1 << iota
	LayerCapabilityPrimary
	LayerCapabilityOverlay
	LayerCapabilityGraphic
	LayerCapabilityVideo
	LayerCapabilityScale
	LayerCapabilityTransform
	LayerCapabilityScanout
	LayerCapabilityNoCrop
)

// Transform is a rotation/flip applied to a buffer.
type Transform uint32

// Transforms, counter-clockwise.
const (
	TransformNormal Transform = iota
	Transform90
	Transform180
	Transform270
	TransformFlipped
	TransformFlipped90
	TransformFlipped180
	TransformFlipped270
)

// Format is a fourcc pixel format code.
type Format uint32

func fourcc(a, b, c, d byte) Format {
	return Format(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Common pixel formats.
var (
	FormatARGB8888 = fourcc('A', 'R', '2', '4')
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
	FormatRGB888   = fourcc('R', 'G', '2', '4')
	FormatRGB565   = fourcc('R', 'G', '1', '6')
	FormatNV12     = fourcc('N', 'V', '1', '2')
	FormatNV21     = fourcc('N', 'V', '2', '1')
	FormatYUV420   = fourcc('Y', 'U', '1', '2')
	FormatYVU420   = fourcc('Y', 'V', '1', '2')
	FormatUYVY     = fourcc('U', 'Y', 'V', 'Y')
	FormatYUYV     = fourcc('Y', 'U', 'Y', 'V')
)

// String returns the fourcc text of f.
func (f Format) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// Mode describes one display timing of an output.
type Mode struct {
	Clock      uint32
	HDisplay   uint32
	HSyncStart uint32
	HSyncEnd   uint32
	HTotal     uint32
	HSkew      uint32
	VDisplay   uint32
	VSyncStart uint32
	VSyncEnd   uint32
	VTotal     uint32
	VScan      uint32
	VRefresh   uint32
	Flags      uint32
	Type       uint32
	Name       string
}

// Value is a property value.
// Only one member is meaningful for a given property.
type Value struct {
	U32 uint32
	S32 int32
	U64 uint64
	S64 int64
	Ptr any
}

// Prop describes one backend-exposed property.
type Prop struct {
	ID   uint32
	Name string
}

// Size is a width/height pair in pixels.
type Size struct {
	H uint32 // horizontal
	V uint32 // vertical
}

// Pos is a rectangle in pixels.
type Pos struct {
	X, Y uint32
	W, H uint32
}

// Config describes the size, crop and format of one side of an
// operation (a layer source, a PP side, a capture destination).
type Config struct {
	Size   Size
	Pos    Pos
	Format Format
}

// LayerInfo carries the geometry pushed to a hardware plane.
type LayerInfo struct {
	SrcConfig Config
	DstPos    Pos
	Transform Transform
}

// PPInfo configures a memory-to-memory post-processor.
type PPInfo struct {
	SrcConfig Config
	DstConfig Config
	Transform Transform
	Sync      bool
	Flags     uint32
}

// Capture modes.
const (
	CaptureModeOneshot uint32 = 1 << iota
	CaptureModeStretch
)

// CaptureInfo configures a capture engine.
type CaptureInfo struct {
	DstConfig   Config
	Transform   Transform
	OneshotMode bool
	Frequency   uint32
	Flags       uint32
}

// OutputChangeHandler is called when an output's connection
// status or DPMS state changes.
type OutputChangeHandler func(o *Output, typ ChangeType, value Value, userData any)

// OutputVblankHandler is called when a per-output hardware vblank
// requested with Output.WaitVblank arrives.
type OutputVblankHandler func(o *Output, sequence uint32, tvSec, tvUsec uint32, userData any)

// OutputCommitHandler is called when a commit submitted with
// Output.Commit completes.
type OutputCommitHandler func(o *Output, sequence uint32, tvSec, tvUsec uint32, userData any)

// PPDoneHandler has the shape of a (src, dst) conversion completion
// callback. No PP method takes one; a finished pair is observable
// through the buffer release handlers of its surfaces.
type PPDoneHandler func(pp *PP, src, dst Surface, userData any)

// CaptureDoneHandler is called when the backend finishes reading
// back into a capture buffer.
type CaptureDoneHandler func(c *Capture, buffer Surface, userData any)

// VblankHandler is called when a Vblank wait completes.
// err is ErrNone on a delivered tick and ErrDPMSOff when the wait
// was ended by a power-off without fake vblanks enabled.
type VblankHandler func(v *Vblank, err Error, sequence uint32, tvSec, tvUsec uint32, userData any)

// BufferReleaseHandler is called when the backend reference count
// of a tracked surface drops to zero.
type BufferReleaseHandler func(buffer Surface, userData any)

// BufferDestroyHandler is called when the allocator destroys a
// tracked surface.
type BufferDestroyHandler func(buffer Surface, userData any)
