package capability

type platformVendor struct {
	platform Platform
	vendor   Vendor
}

// priorityTable maps (platform, vendor) to the ordered list of methods the
// trial loop explores. First trial success wins. Absent keys mean software
// only.
var priorityTable = map[platformVendor][]Method{
	{PlatformWindows, VendorNVIDIA}:  {MethodCUDA, MethodNVENC, MethodD3D11VA, MethodDXVA2},
	{PlatformWindows, VendorAMD}:     {MethodAMF, MethodD3D11VA, MethodDXVA2},
	{PlatformWindows, VendorIntel}:   {MethodQSV, MethodD3D11VA, MethodDXVA2},
	{PlatformWindows, VendorUnknown}: {MethodD3D11VA, MethodDXVA2},

	{PlatformMacOS, VendorApple}:   {MethodVideoToolbox},
	{PlatformMacOS, VendorAMD}:     {MethodVideoToolbox},
	{PlatformMacOS, VendorIntel}:   {MethodVideoToolbox},
	{PlatformMacOS, VendorNVIDIA}:  {MethodVideoToolbox},
	{PlatformMacOS, VendorUnknown}: {MethodVideoToolbox},

	{PlatformLinux, VendorNVIDIA}:  {MethodCUDA, MethodNVENC, MethodVAAPI},
	{PlatformLinux, VendorIntel}:   {MethodQSV, MethodVAAPI},
	{PlatformLinux, VendorAMD}:     {MethodVAAPI},
	{PlatformLinux, VendorUnknown}: {MethodVAAPI},
}

// methodEncoders maps each method to its H.264 encoder. Decode-only methods
// map to the software encoder.
var methodEncoders = map[Method]string{
	MethodCUDA:         "h264_nvenc",
	MethodNVENC:        "h264_nvenc",
	MethodVideoToolbox: "h264_videotoolbox",
	MethodQSV:          "h264_qsv",
	MethodVAAPI:        "h264_vaapi",
	MethodAMF:          "h264_amf",
	MethodD3D11VA:      SoftwareEncoder,
	MethodDXVA2:        SoftwareEncoder,
	MethodSoftware:     SoftwareEncoder,
}

// decodeOnly marks methods that accelerate decoding but cannot encode.
var decodeOnly = map[Method]bool{
	MethodD3D11VA: true,
	MethodDXVA2:   true,
}

// probeValidated marks encoder-only methods ffmpeg does not list under
// -hwaccels; they are validated by a direct encoder trial instead of the
// advertised-support check.
var probeValidated = map[Method]bool{
	MethodNVENC: true,
	MethodAMF:   true,
}

// methodAccelArgs holds the input-side flags a selected method contributes
// to encode invocations. NVENC-family methods carry none: hardware decode is
// never requested there because it breaks format negotiation with the
// scale/pad filter chain.
var methodAccelArgs = map[Method][]string{
	MethodVAAPI:   {"-vaapi_device", "/dev/dri/renderD128"},
	MethodD3D11VA: {"-hwaccel", "d3d11va"},
	MethodDXVA2:   {"-hwaccel", "dxva2"},
}

// methodFilterSuffix holds filter-chain suffixes an encoder requires to
// accept frames.
var methodFilterSuffix = map[Method]string{
	MethodVAAPI: "format=nv12,hwupload",
}

// priorityFor returns the trial order for a machine, or nil when only
// software is viable.
func priorityFor(p Platform, v Vendor) []Method {
	return priorityTable[platformVendor{p, v}]
}

// encoderFor maps a method to its encoder name.
func encoderFor(m Method) string {
	if enc, ok := methodEncoders[m]; ok {
		return enc
	}
	return SoftwareEncoder
}

// ParseMethod validates a user-supplied method name, for the
// hwaccel_priority configuration override.
func ParseMethod(s string) (Method, bool) {
	m := Method(s)
	_, ok := methodEncoders[m]
	return m, ok
}
