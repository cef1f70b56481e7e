// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"os"
	"sort"
	"sync"
)

// Frontend backend-ABI version. A module whose major differs, or
// whose minor is newer than this, is rejected.
const (
	abiMajor = 1
	abiMinor = 6
)

// ABIVersion packs major and minor into the 32-bit form carried by
// a module descriptor.
func ABIVersion(major, minor int) uint32 {
	return uint32(major)<<16 | uint32(minor)&0xffff
}

func abiVersionMajor(v uint32) int { return int(v >> 16) }
func abiVersionMinor(v uint32) int { return int(v & 0xffff) }

// BackendData is the opaque handle a module's Init returns; it is
// passed back on every display-level backend call.
type BackendData any

// BackendOutput is a module's opaque per-output handle.
type BackendOutput any

// BackendLayer is a module's opaque per-layer handle.
type BackendLayer any

// BackendPP is a module's opaque per-post-processor handle.
type BackendPP any

// BackendCapture is a module's opaque per-capture handle.
type BackendCapture any

// ModuleData describes a backend module. Backends construct one
// and pass it to RegisterModule from an init function; Name,
// Vendor, Init and Deinit are mandatory.
type ModuleData struct {
	Name       string
	Vendor     string
	ABIVersion uint32

	Init   func(d *Display) (BackendData, Error)
	Deinit func(bdata BackendData)
}

// DisplayCaps is the backend's display-wide capability snapshot.
type DisplayCaps struct {
	// MaxLayerCount is -1 when not defined.
	MaxLayerCount int
}

// OutputCaps is the backend's capability snapshot for one output.
type OutputCaps struct {
	Status ConnStatus
	Type   OutputType
	TypeID uint32

	Maker string
	Model string
	Name  string

	Modes []Mode
	Props []Prop

	MmWidth  uint32
	MmHeight uint32
	Subpixel uint32

	// Acceptable framebuffer-size envelope; -1 when not defined.
	MinW, MinH     int
	MaxW, MaxH     int
	PreferredAlign int
}

// LayerCaps is the backend's capability snapshot for one layer.
type LayerCaps struct {
	Capabilities LayerCapability

	// Zpos is -1 for video layers; the backend assigns their
	// position outside the graphic-layer range.
	Zpos int

	Formats []Format
	Props   []Prop
}

// PPCaps is the backend's post-processor capability snapshot.
type PPCaps struct {
	Capabilities uint32
	Formats      []Format

	MinW, MinH     int
	MaxW, MaxH     int
	PreferredAlign int

	// MaxAttachCount is 0 for unlimited; honored when the module
	// ABI is at least 1.2.
	MaxAttachCount int
}

// CaptureCaps is the backend's capture capability snapshot.
type CaptureCaps struct {
	Capabilities uint32
	Formats      []Format

	MinW, MinH     int
	MaxW, MaxH     int
	PreferredAlign int
}

// DisplayFuncs is the display-level backend function table.
// GetCapability and GetOutputs are mandatory; a nil optional
// member behaves as ErrNotImplemented.
type DisplayFuncs struct {
	GetCapability        func(bdata BackendData) (DisplayCaps, Error)
	GetPPCapability      func(bdata BackendData) (PPCaps, Error)
	GetCaptureCapability func(bdata BackendData) (CaptureCaps, Error)
	GetOutputs           func(bdata BackendData) ([]BackendOutput, Error)
	GetFD                func(bdata BackendData) (int, Error)
	HandleEvents         func(bdata BackendData) Error
	CreatePP             func(bdata BackendData) (BackendPP, Error)
}

// OutputFuncs is the per-output backend function table.
// GetCapability and GetLayers are mandatory.
type OutputFuncs struct {
	GetCapability    func(o BackendOutput) (OutputCaps, Error)
	GetLayers        func(o BackendOutput) ([]BackendLayer, Error)
	SetProperty      func(o BackendOutput, id uint32, value Value) Error
	GetProperty      func(o BackendOutput, id uint32) (Value, Error)
	WaitVblank       func(o BackendOutput, interval, sync int, userData any) Error
	SetVblankHandler func(o BackendOutput, fn BackendVblankHandler) Error
	Commit           func(o BackendOutput, sync int, userData any) Error
	SetCommitHandler func(o BackendOutput, fn BackendCommitHandler) Error
	SetDPMS          func(o BackendOutput, dpms DPMS) Error
	GetDPMS          func(o BackendOutput) (DPMS, Error)
	SetMode          func(o BackendOutput, mode *Mode) Error
	GetMode          func(o BackendOutput) (*Mode, Error)
	SetStatusHandler func(o BackendOutput, fn BackendStatusHandler, userData any) Error
	CreateCapture    func(o BackendOutput) (BackendCapture, Error)
}

// LayerFuncs is the per-layer backend function table.
// GetCapability is mandatory.
type LayerFuncs struct {
	GetCapability  func(l BackendLayer) (LayerCaps, Error)
	SetProperty    func(l BackendLayer, id uint32, value Value) Error
	GetProperty    func(l BackendLayer, id uint32) (Value, Error)
	SetInfo        func(l BackendLayer, info *LayerInfo) Error
	GetInfo        func(l BackendLayer) (*LayerInfo, Error)
	SetBuffer      func(l BackendLayer, buffer Surface) Error
	UnsetBuffer    func(l BackendLayer) Error
	SetVideoPos    func(l BackendLayer, zpos int) Error
	GetBufferFlags func(l BackendLayer) (uint32, Error)
	CreateCapture  func(l BackendLayer) (BackendCapture, Error)
}

// PPFuncs is the post-processor backend function table.
// Destroy, Commit and SetDoneHandler are mandatory when the PP
// capability is advertised.
type PPFuncs struct {
	Destroy        func(pp BackendPP)
	SetInfo        func(pp BackendPP, info *PPInfo) Error
	Attach         func(pp BackendPP, src, dst Surface) Error
	Commit         func(pp BackendPP) Error
	SetDoneHandler func(pp BackendPP, fn BackendPPDoneHandler, userData any) Error
}

// CaptureFuncs is the capture backend function table.
// Destroy, Commit and SetDoneHandler are mandatory when the
// capture capability is advertised.
type CaptureFuncs struct {
	Destroy        func(c BackendCapture)
	SetInfo        func(c BackendCapture, info *CaptureInfo) Error
	Attach         func(c BackendCapture, buffer Surface) Error
	Commit         func(c BackendCapture) Error
	SetDoneHandler func(c BackendCapture, fn BackendCaptureDoneHandler, userData any) Error
}

// Handler types a backend invokes on the event-loop thread, with
// the user data the frontend passed on the originating call.
type (
	BackendVblankHandler      func(o BackendOutput, sequence, tvSec, tvUsec uint32, userData any)
	BackendCommitHandler      func(o BackendOutput, sequence, tvSec, tvUsec uint32, userData any)
	BackendStatusHandler      func(o BackendOutput, status ConnStatus, userData any)
	BackendPPDoneHandler      func(pp BackendPP, src, dst Surface, userData any)
	BackendCaptureDoneHandler func(c BackendCapture, buffer Surface, userData any)
)

// Module registry. Go code cannot load shared objects at runtime;
// backend modules register their descriptor from an init function,
// and TDM_MODULE selects among them by name.
var (
	moduleMu sync.Mutex
	modules  = make(map[string]*ModuleData)
)

// RegisterModule registers a backend module descriptor.
// A module with the same name replaces the previous registration.
func RegisterModule(m *ModuleData) {
	if m == nil || m.Name == "" {
		log().Error("ignoring invalid module registration")
		return
	}
	moduleMu.Lock()
	defer moduleMu.Unlock()
	if _, ok := modules[m.Name]; ok {
		log().Warnf("module %q replaced", m.Name)
	}
	modules[m.Name] = m
}

// lookupModule picks the module to load: the TDM_MODULE override
// if set, else the sole registered module, else the first in name
// order.
func lookupModule() (*ModuleData, Error) {
	moduleMu.Lock()
	defer moduleMu.Unlock()

	if name := os.Getenv("TDM_MODULE"); name != "" {
		if m, ok := modules[name]; ok {
			return m, ErrNone
		}
		log().Errorf("module %q not registered", name)
		return nil, ErrBadModule
	}

	if len(modules) == 0 {
		log().Error("no backend module registered")
		return nil, ErrBadModule
	}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return modules[names[0]], ErrNone
}

// checkModule validates a descriptor against the frontend ABI.
func checkModule(m *ModuleData) Error {
	log().Infof("frontend ABI version: %d.%d", abiMajor, abiMinor)

	if m.Name == "" || m.Vendor == "" {
		log().Error("module descriptor lacks name or vendor")
		return ErrBadModule
	}

	major := abiVersionMajor(m.ABIVersion)
	minor := abiVersionMinor(m.ABIVersion)
	log().Infof("module %q vendor %q version %d.%d", m.Name, m.Vendor, major, minor)

	if major != abiMajor {
		log().Errorf("%q major version mismatch: %d != %d", m.Name, major, abiMajor)
		return ErrBadModule
	}
	if minor > abiMinor {
		log().Errorf("%q minor version %d is newer than %d", m.Name, minor, abiMinor)
		return ErrBadModule
	}
	if m.Init == nil || m.Deinit == nil {
		log().Errorf("%q lacks init or deinit", m.Name)
		return ErrBadModule
	}
	return ErrNone
}

// RegisterDisplayFuncs installs the display function table.
// Backends call this from Init. Requires module ABI 1.1.
func (d *Display) RegisterDisplayFuncs(funcs *DisplayFuncs) Error {
	if d == nil || funcs == nil {
		return ErrInvalidParameter
	}
	if !d.checkModuleABI(1, 1) {
		return ErrBadModule
	}
	d.mu.Lock()
	d.funcDisplay = *funcs
	d.mu.Unlock()
	return ErrNone
}

// RegisterOutputFuncs installs the output function table.
// Requires module ABI 1.1.
func (d *Display) RegisterOutputFuncs(funcs *OutputFuncs) Error {
	if d == nil || funcs == nil {
		return ErrInvalidParameter
	}
	if !d.checkModuleABI(1, 1) {
		return ErrBadModule
	}
	d.mu.Lock()
	d.funcOutput = *funcs
	d.mu.Unlock()
	return ErrNone
}

// RegisterLayerFuncs installs the layer function table.
// Requires module ABI 1.1.
func (d *Display) RegisterLayerFuncs(funcs *LayerFuncs) Error {
	if d == nil || funcs == nil {
		return ErrInvalidParameter
	}
	if !d.checkModuleABI(1, 1) {
		return ErrBadModule
	}
	d.mu.Lock()
	d.funcLayer = *funcs
	d.mu.Unlock()
	return ErrNone
}

// RegisterPPFuncs installs the post-processor function table and
// flips the PP capability bit. Requires module ABI 1.1.
func (d *Display) RegisterPPFuncs(funcs *PPFuncs) Error {
	if d == nil || funcs == nil {
		return ErrInvalidParameter
	}
	if !d.checkModuleABI(1, 1) {
		return ErrBadModule
	}
	d.mu.Lock()
	d.funcPP = *funcs
	d.capabilities |= DisplayCapabilityPP
	d.mu.Unlock()
	return ErrNone
}

// RegisterCaptureFuncs installs the capture function table and
// flips the capture capability bit. Requires module ABI 1.1.
func (d *Display) RegisterCaptureFuncs(funcs *CaptureFuncs) Error {
	if d == nil || funcs == nil {
		return ErrInvalidParameter
	}
	if !d.checkModuleABI(1, 1) {
		return ErrBadModule
	}
	d.mu.Lock()
	d.funcCapture = *funcs
	d.capabilities |= DisplayCapabilityCapture
	d.mu.Unlock()
	return ErrNone
}

// checkModuleABI reports whether the loaded module's ABI is at
// least major.minor.
func (d *Display) checkModuleABI(major, minor int) bool {
	if d.moduleData == nil {
		return false
	}
	if mj := abiVersionMajor(d.moduleData.ABIVersion); mj != major {
		return mj > major
	}
	return abiVersionMinor(d.moduleData.ABIVersion) >= minor
}

// checkBackendFuncs verifies the mandatory entry points after the
// module's Init has returned, and pulls the aggregate capability
// snapshots.
func (d *Display) checkBackendFuncs() Error {
	if d.funcDisplay.GetCapability == nil ||
		d.funcDisplay.GetOutputs == nil ||
		d.funcOutput.GetCapability == nil ||
		d.funcOutput.GetLayers == nil ||
		d.funcLayer.GetCapability == nil {
		log().Error("module lacks mandatory functions")
		return ErrBadModule
	}

	caps, err := d.funcDisplay.GetCapability(d.bdata)
	if err != ErrNone {
		log().Error("display capability query failed")
		return ErrBadModule
	}
	d.capsDisplay = caps

	if d.capabilities&DisplayCapabilityPP != 0 {
		if d.funcDisplay.GetPPCapability == nil || d.funcDisplay.CreatePP == nil ||
			d.funcPP.Destroy == nil || d.funcPP.Commit == nil || d.funcPP.SetDoneHandler == nil {
			log().Error("module advertises pp without mandatory pp functions")
			return ErrBadModule
		}
	}
	if d.capabilities&DisplayCapabilityCapture != 0 {
		if d.funcDisplay.GetCaptureCapability == nil ||
			d.funcOutput.CreateCapture == nil || d.funcLayer.CreateCapture == nil ||
			d.funcCapture.Destroy == nil || d.funcCapture.Commit == nil ||
			d.funcCapture.SetDoneHandler == nil {
			log().Error("module advertises capture without mandatory capture functions")
			return ErrBadModule
		}
	}
	return ErrNone
}
