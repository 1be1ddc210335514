// Package encoder normalizes input clips to the canonical output geometry,
// frame rate, and codec, selecting an encoder from the detected capability
// descriptor and falling back through an ordered strategy chain on failure.
package encoder

import "github.com/clipforge/clipforge/internal/capability"

// Profile is an immutable bundle of encoder parameters. Profiles are
// selected from the capability descriptor or by explicit name.
type Profile struct {
	Name           string
	HWAccelEnabled bool
	Method         capability.Method
	Encoder        string
	Preset         []string // encoder-specific quality arguments
	PixelFormat    string   // empty when the filter chain manages formats itself
	ExtraFilter    string   // appended to the scale/pad chain
	AccelArgs      []string // input-side flags
	// Compatibility grades how widely the profile's output plays back,
	// 1 (exotic) to 5 (plays anywhere).
	Compatibility int
}

// encoderPresets maps encoder names to their quality arguments.
var encoderPresets = map[string][]string{
	"h264_nvenc":        {"-preset", "p4", "-rc", "vbr"},
	"h264_qsv":          {"-preset", "medium"},
	"h264_amf":          {"-quality", "balanced"},
	"h264_videotoolbox": {"-realtime", "false"},
	"h264_vaapi":        nil,
	capability.SoftwareEncoder: {"-preset", "fast"},
}

// SoftwareProfile is the standard software path with the full filter chain.
var SoftwareProfile = Profile{
	Name:          "software",
	Encoder:       capability.SoftwareEncoder,
	Preset:        []string{"-preset", "fast"},
	PixelFormat:   "yuv420p",
	Compatibility: 5,
}

// UltrafastProfile is the absolute last resort: minimal software encode with
// no geometry normalization beyond a pixel-format fix.
var UltrafastProfile = Profile{
	Name:          "ultrafast",
	Encoder:       capability.SoftwareEncoder,
	Preset:        []string{"-preset", "ultrafast"},
	PixelFormat:   "yuv420p",
	Compatibility: 5,
}

// ProfileFromDescriptor builds the hardware profile a capability descriptor
// selects. Descriptors without a hardware encoder yield the software
// profile; decode-only methods keep their decode flags but encode in
// software.
func ProfileFromDescriptor(d *capability.Descriptor) Profile {
	if d == nil || !d.Available {
		return SoftwareProfile
	}

	p := Profile{
		Name:           "hw-" + string(d.Method),
		HWAccelEnabled: true,
		Method:         d.Method,
		Encoder:        d.Encoder,
		Preset:         encoderPresets[d.Encoder],
		ExtraFilter:    d.ExtraFilter,
		AccelArgs:      d.AccelArgs,
		Compatibility:  3,
	}
	if d.ExtraFilter == "" {
		p.PixelFormat = "yuv420p"
	}
	if d.Encoder == capability.SoftwareEncoder {
		p.Preset = encoderPresets[capability.SoftwareEncoder]
		p.Compatibility = 5
	}
	return p
}
