package platform

import "golang.org/x/sys/cpu"

// CpuFeatures reports the host vector extensions the code generator is
// allowed to use. Loaded once at startup.
var CpuFeatures = loadCpuFeatureFlags()

// CpuFeatureFlags holds the subset of CPUID feature bits the recompiler
// cares about.
type CpuFeatureFlags struct {
	HasAVX     bool
	HasAVX512F bool
	HasFMA     bool
}

func loadCpuFeatureFlags() CpuFeatureFlags {
	return CpuFeatureFlags{
		HasAVX:     cpu.X86.HasAVX,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
	}
}
