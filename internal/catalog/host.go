package catalog

import "golang.org/x/sys/cpu"

// Well-known target names declared by the embedded descriptors.
const (
	TargetAMDGPU   = "amdgpu_cdna3"
	TargetNVGPU    = "nvgpu_sm80"
	TargetCPU      = "cpu_amx"
	TargetPortable = "portable"
)

// HostTarget picks the target whose kinds the host CPU can execute
// natively: the AMX tile target when the processor advertises tile
// support, otherwise the portable fallback. GPU targets are never
// selected by host detection.
func HostTarget() string {
	if cpu.X86.HasAMXTile {
		return TargetCPU
	}
	return TargetPortable
}
