// Package capability discovers what the installed ffmpeg build and the local
// GPU can actually do, and publishes the result as a cached process-wide
// descriptor. Detection is driven by declarative priority tables keyed by
// (platform, vendor) and a single generic trial loop.
package capability

import "encoding/json"

// Method identifies a hardware acceleration pathway.
type Method string

// Known acceleration methods. Decode-only methods are never selected as
// encoders; they map to the software encoder and only carry decode flags.
const (
	MethodNone         Method = "none"
	MethodCUDA         Method = "cuda"
	MethodNVENC        Method = "nvenc"
	MethodVideoToolbox Method = "videotoolbox"
	MethodQSV          Method = "qsv"
	MethodVAAPI        Method = "vaapi"
	MethodD3D11VA      Method = "d3d11va"
	MethodDXVA2        Method = "dxva2"
	MethodAMF          Method = "amf"
	MethodSoftware     Method = "software"
)

// Platform identifies the operating system family.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformOther   Platform = "other"
)

// Vendor identifies the GPU vendor.
type Vendor string

const (
	VendorNVIDIA  Vendor = "nvidia"
	VendorAMD     Vendor = "amd"
	VendorIntel   Vendor = "intel"
	VendorApple   Vendor = "apple"
	VendorUnknown Vendor = "unknown"
)

// SoftwareEncoder is the universal fallback encoder.
const SoftwareEncoder = "libx264"

// Descriptor is the outcome of one detection pass. Once Available is true,
// Encoder, AccelArgs, and ExtraFilter are jointly consistent with Method.
type Descriptor struct {
	Available       bool     `json:"available"`
	Method          Method   `json:"method"`
	Encoder         string   `json:"encoder"`
	AccelArgs       []string `json:"accel_args,omitempty"`
	ExtraFilter     string   `json:"extra_filter,omitempty"` // filter suffix some encoders require (e.g. hwupload for vaapi)
	IsDedicatedGPU  bool     `json:"is_dedicated_gpu"`
	Platform        Platform `json:"platform"`
	GPUVendor       Vendor   `json:"gpu_vendor"`
	TestedMethods   []Method `json:"tested_methods"`
	FallbackEncoder string   `json:"fallback_encoder"`
	Message         string   `json:"message,omitempty"`
}

// JSON renders the descriptor for machine consumption (detect --json).
func (d *Descriptor) JSON() (string, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HardwareEncode reports whether the descriptor selects a genuine hardware
// encoder, as opposed to software or a decode-only acceleration path.
func (d *Descriptor) HardwareEncode() bool {
	return d.Available && d.Encoder != SoftwareEncoder
}
