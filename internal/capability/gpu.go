package capability

import (
	"context"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
)

// hostPlatform maps runtime.GOOS to a Platform.
func hostPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	case "linux":
		return PlatformLinux
	default:
		return PlatformOther
	}
}

// detectVendor enumerates display adapters with platform-specific tooling
// and matches vendor strings. The second return value reports whether the
// adapter is a dedicated GPU rather than an integrated one.
func detectVendor(ctx context.Context, runner commandRunner, platform Platform) (Vendor, bool) {
	if adapters := enumerateAdapters(ctx, runner, platform); adapters != "" {
		if v, ok := classifyAdapters(adapters); ok {
			return v, isDedicated(v, adapters)
		}
	}
	// No adapter enumeration available. The CPU vendor is a weak hint for
	// machines with only an integrated GPU.
	if v, ok := vendorFromCPU(); ok {
		return v, false
	}
	return VendorUnknown, false
}

// commandRunner is the subset of ffmpeg.Runner the vendor probes need.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, string, error)
}

// enumerateAdapters returns raw display-adapter text from the platform's
// native tooling, or "" when nothing usable responds.
func enumerateAdapters(ctx context.Context, runner commandRunner, platform Platform) string {
	switch platform {
	case PlatformLinux:
		// nvidia-smi is authoritative when present.
		if out, _, err := runner.Run(ctx, "nvidia-smi", "-L"); err == nil && strings.TrimSpace(out) != "" {
			return out
		}
		if out, _, err := runner.Run(ctx, "lspci", "-nn"); err == nil {
			var lines []string
			for _, line := range strings.Split(out, "\n") {
				lower := strings.ToLower(line)
				if strings.Contains(lower, "vga") || strings.Contains(lower, "3d controller") || strings.Contains(lower, "display") {
					lines = append(lines, line)
				}
			}
			return strings.Join(lines, "\n")
		}
	case PlatformMacOS:
		if runtime.GOARCH == "arm64" {
			return "Apple Silicon"
		}
		if out, _, err := runner.Run(ctx, "system_profiler", "SPDisplaysDataType"); err == nil {
			return out
		}
	case PlatformWindows:
		if out, _, err := runner.Run(ctx, "wmic", "path", "win32_VideoController", "get", "name"); err == nil {
			return out
		}
		if out, _, err := runner.Run(ctx, "powershell", "-NoProfile", "-Command",
			"(Get-CimInstance Win32_VideoController).Name"); err == nil {
			return out
		}
	}
	return ""
}

// classifyAdapters matches vendor markers in adapter text.
func classifyAdapters(adapters string) (Vendor, bool) {
	lower := strings.ToLower(adapters)
	switch {
	case strings.Contains(lower, "nvidia") || strings.Contains(lower, "geforce") || strings.Contains(lower, "quadro"):
		return VendorNVIDIA, true
	case strings.Contains(lower, "apple"):
		return VendorApple, true
	case strings.Contains(lower, "amd") || strings.Contains(lower, "radeon") || strings.Contains(lower, "advanced micro devices"):
		return VendorAMD, true
	case strings.Contains(lower, "intel"):
		return VendorIntel, true
	}
	return VendorUnknown, false
}

// isDedicated classifies the adapter as dedicated media hardware. NVIDIA
// and AMD parts are assumed dedicated; Intel only for Arc discrete cards.
func isDedicated(v Vendor, adapters string) bool {
	switch v {
	case VendorNVIDIA, VendorAMD:
		return true
	case VendorIntel:
		return strings.Contains(strings.ToLower(adapters), "arc")
	default:
		return false
	}
}

// vendorFromCPU guesses the likely integrated GPU vendor from the CPU
// vendor string.
func vendorFromCPU() (Vendor, bool) {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return VendorUnknown, false
	}
	switch {
	case strings.Contains(strings.ToLower(infos[0].VendorID), "genuineintel"):
		return VendorIntel, true
	case strings.Contains(strings.ToLower(infos[0].VendorID), "authenticamd"):
		return VendorAMD, true
	}
	return VendorUnknown, false
}
