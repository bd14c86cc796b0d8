package kernelapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestApplyRlimitsUnknownTypeErrors(t *testing.T) {
	err := ApplyRlimits([]Rlimit{{Type: "RLIMIT_BOGUS", Soft: 1, Hard: 1}})
	assert.Error(t, err)
}

func TestApplyRlimitsSetsKnownLimit(t *testing.T) {
	assert := assert.New(t)

	var before unix.Rlimit
	assert.NoError(unix.Getrlimit(unix.RLIMIT_NOFILE, &before))

	// Lowering a soft limit below (or at) the current hard limit never
	// requires privilege, so this is safe to run as an unprivileged test.
	soft := before.Cur
	if soft > before.Max {
		soft = before.Max
	}

	err := ApplyRlimits([]Rlimit{{Type: "RLIMIT_NOFILE", Soft: soft, Hard: before.Max}})
	assert.NoError(err)
}
