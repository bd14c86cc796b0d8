package sandbox

import (
	"strings"

	"github.com/syndtr/gocapability/capability"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// capByName maps an OCI capability name ("CAP_SYS_ADMIN") to its numeric
// value, built once from capability.List() the same way containerd's CRI
// plugin derives the reverse mapping (capability.Cap.String() uppercased
// with a CAP_ prefix).
var capByName = func() map[string]uintptr {
	m := make(map[string]uintptr, len(capability.List()))
	for _, c := range capability.List() {
		m["CAP_"+strings.ToUpper(c.String())] = uintptr(c)
	}
	return m
}()

// capsFromOCI resolves an OCI process's named capability sets to the
// numeric form kernelapi.PreExecStep carries. Unknown names are dropped
// silently; nothing earlier checks that every name is known, and
// ocispec.Bundle.CheckCapabilities only checks membership in the sandbox
// ceiling when one is configured.
func capsFromOCI(oci *specs.LinuxCapabilities) *kernelapi.Capabilities {
	if oci == nil {
		return nil
	}
	return &kernelapi.Capabilities{
		Bounding:    resolveCapNames(oci.Bounding),
		Effective:   resolveCapNames(oci.Effective),
		Inheritable: resolveCapNames(oci.Inheritable),
		Permitted:   resolveCapNames(oci.Permitted),
		Ambient:     resolveCapNames(oci.Ambient),
	}
}

func resolveCapNames(names []string) []uintptr {
	if len(names) == 0 {
		return nil
	}
	out := make([]uintptr, 0, len(names))
	for _, n := range names {
		if v, ok := capByName[n]; ok {
			out = append(out, v)
		}
	}
	return out
}

// allowedCapsSet turns the sandbox-wide capability ceiling (if any) into
// the map[string]bool ocispec.Bundle.CheckCapabilities expects.
func allowedCapsSet(allowed []string) map[string]bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		set[c] = true
	}
	return set
}
