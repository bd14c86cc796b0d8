package sandbox

import (
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
)

func TestCapsFromOCINilIsNil(t *testing.T) {
	assert.Nil(t, capsFromOCI(nil))
}

func TestCapsFromOCIResolvesKnownNames(t *testing.T) {
	assert := assert.New(t)

	caps := capsFromOCI(&specs.LinuxCapabilities{
		Bounding: []string{"CAP_CHOWN", "CAP_BOGUS_UNKNOWN"},
	})
	assert.NotNil(caps)
	assert.Len(caps.Bounding, 1, "unknown capability names are dropped silently")
	assert.Nil(caps.Effective)
}

func TestAllowedCapsSetEmptyIsNil(t *testing.T) {
	assert.Nil(t, allowedCapsSet(nil))
	assert.Nil(t, allowedCapsSet([]string{}))
}

func TestAllowedCapsSetBuildsLookupMap(t *testing.T) {
	set := allowedCapsSet([]string{"CAP_CHOWN", "CAP_KILL"})
	assert.True(t, set["CAP_CHOWN"])
	assert.True(t, set["CAP_KILL"])
	assert.False(t, set["CAP_SYS_ADMIN"])
}
