package kernelapi

import (
	"github.com/syndtr/gocapability/capability"
)

// ApplyCapabilities drops every capability not present in the requested
// set from the calling process (expected to be the freshly forked child,
// before execve), across all five capability sets. It is one of the
// PreExecStep actions the adapter's Spawn contract runs before handing
// control to the user command.
func ApplyCapabilities(requested *Capabilities) error {
	if requested == nil {
		return nil
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return wrap("capget", err, "")
	}
	if err := caps.Load(); err != nil {
		return wrap("capget", err, "")
	}

	caps.Clear(capability.BOUNDING | capability.EFFECTIVE | capability.INHERITABLE | capability.PERMITTED | capability.AMBIENT)
	caps.Set(capability.BOUNDING, toCaps(requested.Bounding)...)
	caps.Set(capability.EFFECTIVE, toCaps(requested.Effective)...)
	caps.Set(capability.INHERITABLE, toCaps(requested.Inheritable)...)
	caps.Set(capability.PERMITTED, toCaps(requested.Permitted)...)
	caps.Set(capability.AMBIENT, toCaps(requested.Ambient)...)

	if err := caps.Apply(capability.CAPS | capability.AMBS); err != nil {
		return wrap("capset", err, "")
	}
	return nil
}

func toCaps(in []uintptr) []capability.Cap {
	out := make([]capability.Cap, len(in))
	for i, v := range in {
		out[i] = capability.Cap(v)
	}
	return out
}
