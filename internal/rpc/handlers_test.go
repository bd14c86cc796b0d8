package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
	"github.com/kata-containers/kata-agent-go/internal/sandbox"
	"github.com/kata-containers/kata-agent-go/internal/streammux"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	d, err := NewDispatcher(sandbox.NewSandbox("sb-1"), streammux.NewMux(16))
	require.NoError(t, err)
	return d
}

func TestMethodsRegistersEveryRequestKind(t *testing.T) {
	d := newTestDispatcher(t)
	m := d.methods()

	for _, kind := range []string{
		"CreateSandbox", "DestroySandbox", "CreateContainer", "StartContainer",
		"ExecProcess", "SignalProcess", "WaitProcess", "StatsContainer",
		"PauseContainer", "ResumeContainer", "UpdateContainer", "RemoveContainer",
		"ListProcesses", "WriteStdin", "CloseStdin", "TtyWinResize",
		"AddDevice", "RemoveDevice", "AddStorage", "RemoveStorage",
		"UpdateInterfaces", "UpdateRoutes", "ListInterfaces", "ListRoutes",
		"AddARPNeighbors", "SetGuestDateTime", "ReseedRandom", "OnlineCPUMem",
		"MemHotplugProbe", "CopyFile", "Check", "GetMetrics", "GetOOMEvents",
		"GetGuestDetails",
	} {
		assert.Contains(t, m, kind)
	}
}

func TestCheckAnswersHealthyWithoutTouchingSandbox(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.check(context.Background(), func(interface{}) error { return nil })
	require.NoError(t, err)
	assert.True(t, resp.(*CheckResponse).Healthy)
}

func TestGetMetricsRendersPrometheusText(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.getMetrics(context.Background(), func(interface{}) error { return nil })
	require.NoError(t, err)
	assert.Contains(t, resp.(*GetMetricsResponse).Metrics, "go_goroutines")
}

func TestGetOOMEventsEmptyWhenNoneRecorded(t *testing.T) {
	sb := sandbox.NewSandbox("sb-1")
	mux := streammux.NewMux(16)
	d, err := NewDispatcher(sb, mux)
	require.NoError(t, err)

	resp, err := d.getOOMEvents(context.Background(), func(interface{}) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, resp.(*GetOOMEventsResponse).ContainerIDs)
}

func TestListProcessesEmptyWhenNoContainers(t *testing.T) {
	d := newTestDispatcher(t)
	resp, err := d.listProcesses(context.Background(), func(interface{}) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, resp.(*ListProcessesResponse).Processes)
}

func TestStartContainerUnknownIDIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	req := &StartContainerRequest{ContainerID: "no-such-container"}
	_, err := d.startContainer(context.Background(), func(out interface{}) error {
		*out.(*StartContainerRequest) = *req
		return nil
	})
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestSignalProcessUnknownContainerIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	req := &SignalProcessRequest{ContainerID: "no-such-container", Signal: 9}
	_, err := d.signalProcess(context.Background(), func(out interface{}) error {
		*out.(*SignalProcessRequest) = *req
		return nil
	})
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestStatsContainerUnknownContainerIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	req := &StatsContainerRequest{ContainerID: "no-such-container"}
	_, err := d.statsContainer(context.Background(), func(out interface{}) error {
		*out.(*StatsContainerRequest) = *req
		return nil
	})
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestRemoveDeviceUnknownIDIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	req := &RemoveDeviceRequest{DeviceID: "no-such-device"}
	_, err := d.removeDevice(context.Background(), func(out interface{}) error {
		*out.(*RemoveDeviceRequest) = *req
		return nil
	})
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestRemoveStorageUnknownIDIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	req := &RemoveStorageRequest{StorageID: "no-such-storage"}
	_, err := d.removeStorage(context.Background(), func(out interface{}) error {
		*out.(*RemoveStorageRequest) = *req
		return nil
	})
	assert.IsType(t, &kataerr.NotFound{}, err)
}

func TestOpenContainerIONonTerminalRegistersThreeStreams(t *testing.T) {
	require := require.New(t)
	d := newTestDispatcher(t)

	ioCfg, err := d.openContainerIO(context.Background(), "c1", "", false, 0, 0)
	require.NoError(err)
	require.NotNil(ioCfg.Stdin)
	require.NotNil(ioCfg.Stdout)
	require.NotNil(ioCfg.Stderr)
	assert.False(t, ioCfg.Terminal)

	d.mux.CloseContainer("c1")
}
