package sandbox

import (
	"os"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

var namespaceFlagByType = map[specs.LinuxNamespaceType]kernelapi.NamespaceFlags{
	specs.PIDNamespace:     kernelapi.CloneNewPID,
	specs.NetworkNamespace: kernelapi.CloneNewNet,
	specs.MountNamespace:   kernelapi.CloneNewNS,
	specs.UTSNamespace:     kernelapi.CloneNewUTS,
	specs.IPCNamespace:     kernelapi.CloneNewIPC,
	specs.UserNamespace:    kernelapi.CloneNewUser,
	specs.CgroupNamespace:  kernelapi.CloneNewCgroup,
}

var namespaceKindByType = map[specs.LinuxNamespaceType]kernelapi.NamespaceType{
	specs.PIDNamespace:     kernelapi.NamespacePID,
	specs.NetworkNamespace: kernelapi.NamespaceNet,
	specs.MountNamespace:   kernelapi.NamespaceMount,
	specs.UTSNamespace:     kernelapi.NamespaceUTS,
	specs.IPCNamespace:     kernelapi.NamespaceIPC,
	specs.UserNamespace:    kernelapi.NamespaceUser,
	specs.CgroupNamespace:  kernelapi.NamespaceCgroup,
}

// namespacesFromBundle splits the bundle's linux.namespaces list into
// fresh namespaces to create (no Path given) and existing ones to join by
// opening their /proc/<pid>/ns file (a Path given, e.g. the sandbox's
// shared network namespace). Join fds are opened here and owned by the
// returned slice; on error, anything opened so far is closed.
func namespacesFromBundle(spec *specs.Spec) (kernelapi.NamespaceFlags, []kernelapi.NamespaceFD, error) {
	if spec.Linux == nil {
		return 0, nil, nil
	}

	var create kernelapi.NamespaceFlags
	var join []kernelapi.NamespaceFD

	for _, ns := range spec.Linux.Namespaces {
		flag, known := namespaceFlagByType[ns.Type]
		if !known {
			continue
		}

		if ns.Path == "" {
			create |= flag
			continue
		}

		f, err := os.Open(ns.Path)
		if err != nil {
			for _, opened := range join {
				opened.FD.Close()
			}
			return 0, nil, &kataerr.InvalidSpec{Field: "linux.namespaces", Reason: "opening " + ns.Path + ": " + err.Error()}
		}
		join = append(join, kernelapi.NamespaceFD{Type: namespaceKindByType[ns.Type], FD: f})
	}

	return create, join, nil
}
