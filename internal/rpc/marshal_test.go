package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMarshalUnmarshalRoundTrip exercises CreateSandboxRequest's
// ttrpc-facing codec methods, matching the shape a generated
// protoc-gen-gogo-ttrpc type would expose.
func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	assert := assert.New(t)

	in := &CreateSandboxRequest{
		SandboxID:           "sbx-1",
		Hostname:            "guest",
		AllowedCapabilities: []string{"CAP_CHOWN"},
		CgroupRoot:          "/kata",
		KernelModules:       []string{"virtio_net"},
	}
	data, err := in.Marshal()
	assert.NoError(err)

	out := &CreateSandboxRequest{}
	assert.NoError(out.Unmarshal(data))
	assert.Equal(in, out)
}

func TestWaitProcessResponseRoundTrip(t *testing.T) {
	assert := assert.New(t)

	in := &WaitProcessResponse{ExitCode: 137, Signaled: true, Signal: 9}
	data, err := in.Marshal()
	assert.NoError(err)

	out := &WaitProcessResponse{}
	assert.NoError(out.Unmarshal(data))
	assert.Equal(in, out)
}

func TestEmptyRoundTrip(t *testing.T) {
	assert := assert.New(t)

	data, err := (&Empty{}).Marshal()
	assert.NoError(err)
	assert.NoError((&Empty{}).Unmarshal(data))
}
