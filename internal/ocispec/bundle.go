// Package ocispec parses and validates OCI runtime bundles (C2 in the
// design). It produces a normalized *Bundle that the container engine
// treats as read-only from the moment validation succeeds.
package ocispec

import (
	"fmt"
	"os"
	"path/filepath"

	units "github.com/docker/go-units"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

var specLog = logrus.WithField("subsystem", "ocispec")

// SetLogger lets the caller attach contextual fields (sandbox/container id)
// to every message this package logs.
func SetLogger(logger *logrus.Entry) {
	fields := specLog.Data
	specLog = logger.WithFields(fields)
}

// Bundle is the normalized view of an OCI runtime bundle: the validated
// *specs.Spec plus the filesystem location it was loaded from. Nothing
// mutates a Bundle after Validate returns successfully.
type Bundle struct {
	Path string
	Spec *specs.Spec
}

// Load reads config.json from bundlePath and validates it.
func Load(bundlePath string) (*Bundle, error) {
	cfgPath := filepath.Join(bundlePath, "config.json")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, &kataerr.InvalidSpec{Field: "bundle", Reason: fmt.Sprintf("reading %s: %v", cfgPath, err)}
	}

	spec := &specs.Spec{}
	if err := unmarshalSpec(data, spec); err != nil {
		return nil, &kataerr.InvalidSpec{Field: "bundle", Reason: fmt.Sprintf("parsing %s: %v", cfgPath, err)}
	}

	b := &Bundle{Path: bundlePath, Spec: spec}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	return b, nil
}

// FromSpec validates a spec already materialized in memory (the common
// path: the RPC dispatcher receives the bundle inline in a CreateContainer
// payload rather than as a path on the guest filesystem).
func FromSpec(bundlePath string, spec *specs.Spec) (*Bundle, error) {
	b := &Bundle{Path: bundlePath, Spec: spec}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks a bundle before it may be used to create a container:
// process presence, non-empty args, a non-empty root.path, well-formed
// mounts, no duplicate namespace types, and in-range resource values. It
// does not check that the rootfs exists on the guest filesystem, and it
// does not look at capabilities; the sandbox-wide capability ceiling is
// enforced separately by CheckCapabilities.
func (b *Bundle) Validate() error {
	spec := b.Spec

	if spec.Process == nil {
		return &kataerr.InvalidSpec{Field: "process", Reason: "missing"}
	}
	if len(spec.Process.Args) == 0 {
		return &kataerr.InvalidSpec{Field: "process.args", Reason: "must be non-empty"}
	}
	if spec.Root == nil || spec.Root.Path == "" {
		return &kataerr.InvalidSpec{Field: "root.path", Reason: "missing"}
	}
	if err := b.validateMounts(); err != nil {
		return err
	}
	if err := b.validateNamespaces(); err != nil {
		return err
	}
	if err := b.validateResources(); err != nil {
		return err
	}

	return nil
}

func (b *Bundle) validateMounts() error {
	for i, m := range b.Spec.Mounts {
		if m.Destination == "" {
			return &kataerr.InvalidSpec{Field: fmt.Sprintf("mounts[%d].destination", i), Reason: "must not be empty"}
		}
		if !filepath.IsAbs(m.Destination) {
			return &kataerr.InvalidSpec{Field: fmt.Sprintf("mounts[%d].destination", i), Reason: "must be absolute"}
		}
		if m.Type != "bind" && m.Type != "" && m.Source == "" {
			return &kataerr.InvalidSpec{Field: fmt.Sprintf("mounts[%d].source", i), Reason: "must not be empty for non-bind mounts"}
		}
	}
	return nil
}

func (b *Bundle) validateNamespaces() error {
	if b.Spec.Linux == nil {
		return nil
	}
	seen := make(map[specs.LinuxNamespaceType]bool)
	for _, ns := range b.Spec.Linux.Namespaces {
		if seen[ns.Type] {
			return &kataerr.InvalidSpec{Field: "linux.namespaces", Reason: fmt.Sprintf("duplicate namespace type %q", ns.Type)}
		}
		seen[ns.Type] = true
	}
	return nil
}

func (b *Bundle) validateResources() error {
	if b.Spec.Linux == nil || b.Spec.Linux.Resources == nil {
		return nil
	}
	res := b.Spec.Linux.Resources
	if res.Memory != nil && res.Memory.Limit != nil && *res.Memory.Limit < 0 {
		return &kataerr.InvalidSpec{Field: "linux.resources.memory.limit", Reason: "must not be negative"}
	}
	if res.CPU != nil {
		if res.CPU.Quota != nil && *res.CPU.Quota < -1 {
			return &kataerr.InvalidSpec{Field: "linux.resources.cpu.quota", Reason: "must be -1 or a non-negative value"}
		}
		if res.CPU.Period != nil && *res.CPU.Period == 0 {
			return &kataerr.InvalidSpec{Field: "linux.resources.cpu.period", Reason: "must not be zero"}
		}
	}
	if res.Pids != nil && res.Pids.Limit < -1 {
		return &kataerr.InvalidSpec{Field: "linux.resources.pids.limit", Reason: "must be -1 or a non-negative value"}
	}
	return nil
}

// CheckCapabilities validates that every capability requested by the
// bundle's process is a member of allowed. A nil or empty allowed set
// means the sandbox policy permits anything.
func (b *Bundle) CheckCapabilities(allowed map[string]bool) error {
	if len(allowed) == 0 || b.Spec.Process == nil || b.Spec.Process.Capabilities == nil {
		return nil
	}
	caps := b.Spec.Process.Capabilities
	for _, set := range [][]string{caps.Bounding, caps.Effective, caps.Inheritable, caps.Permitted, caps.Ambient} {
		for _, c := range set {
			if !allowed[c] {
				return &kataerr.PermissionDenied{Reason: fmt.Sprintf("capability %q is not permitted by sandbox policy", c)}
			}
		}
	}
	return nil
}

// MemoryLimitBytes parses a human-readable quantity (e.g. "256Mi") the way
// OCI annotations sometimes carry resource overrides, falling back to the
// already-structured linux.resources.memory.limit when ann is empty.
func (b *Bundle) MemoryLimitBytes(annotationValue string) (int64, error) {
	if annotationValue == "" {
		if b.Spec.Linux != nil && b.Spec.Linux.Resources != nil && b.Spec.Linux.Resources.Memory != nil && b.Spec.Linux.Resources.Memory.Limit != nil {
			return *b.Spec.Linux.Resources.Memory.Limit, nil
		}
		return 0, nil
	}
	v, err := units.RAMInBytes(annotationValue)
	if err != nil {
		return 0, &kataerr.InvalidSpec{Field: "annotations.memory", Reason: err.Error()}
	}
	return v, nil
}

// RootfsPath returns the bundle's rootfs path, resolved relative to the
// bundle path when not absolute.
func (b *Bundle) RootfsPath() string {
	if filepath.IsAbs(b.Spec.Root.Path) {
		return b.Spec.Root.Path
	}
	return filepath.Join(b.Path, b.Spec.Root.Path)
}
