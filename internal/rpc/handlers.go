package rpc

import (
	"context"
	"syscall"
	"time"

	"github.com/containerd/ttrpc"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
	"github.com/kata-containers/kata-agent-go/internal/ocispec"
	"github.com/kata-containers/kata-agent-go/internal/sandbox"
	"github.com/kata-containers/kata-agent-go/internal/streammux"
)

// methods builds the ttrpc method table, one entry per request kind
// spec.md §6 enumerates.
func (d *Dispatcher) methods() map[string]ttrpc.Method {
	m := map[string]ttrpc.Method{}

	reg := func(name string, fn func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error)) {
		m[name] = method(name, fn)
	}

	reg("CreateSandbox", d.createSandbox)
	reg("DestroySandbox", d.destroySandbox)
	reg("CreateContainer", d.createContainer)
	reg("StartContainer", d.startContainer)
	reg("ExecProcess", d.execProcess)
	reg("SignalProcess", d.signalProcess)
	reg("WaitProcess", d.waitProcess)
	reg("StatsContainer", d.statsContainer)
	reg("PauseContainer", d.pauseContainer)
	reg("ResumeContainer", d.resumeContainer)
	reg("UpdateContainer", d.updateContainer)
	reg("RemoveContainer", d.removeContainer)
	reg("ListProcesses", d.listProcesses)
	reg("WriteStdin", d.writeStdin)
	reg("CloseStdin", d.closeStdin)
	reg("TtyWinResize", d.ttyWinResize)
	reg("AddDevice", d.addDevice)
	reg("RemoveDevice", d.removeDevice)
	reg("AddStorage", d.addStorage)
	reg("RemoveStorage", d.removeStorage)
	reg("UpdateInterfaces", d.updateInterfaces)
	reg("UpdateRoutes", d.updateRoutes)
	reg("ListInterfaces", d.listInterfaces)
	reg("ListRoutes", d.listRoutes)
	reg("AddARPNeighbors", d.addARPNeighbors)
	reg("SetGuestDateTime", d.setGuestDateTime)
	reg("ReseedRandom", d.reseedRandom)
	reg("OnlineCPUMem", d.onlineCPUMem)
	reg("MemHotplugProbe", d.memHotplugProbe)
	reg("CopyFile", d.copyFile)
	reg("Check", d.check)
	reg("GetMetrics", d.getMetrics)
	reg("GetOOMEvents", d.getOOMEvents)
	reg("GetGuestDetails", d.getGuestDetails)

	return m
}

func (d *Dispatcher) createSandbox(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &CreateSandboxRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	cfg := sandbox.Config{
		Hostname:            req.Hostname,
		AllowedCapabilities: req.AllowedCapabilities,
		CgroupRoot:          req.CgroupRoot,
		KernelModules:       req.KernelModules,
		SandboxNetNSPath:    req.SandboxNetNSPath,
	}
	if err := d.sb.CreateSandbox(ctx, cfg); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) destroySandbox(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &DestroySandboxRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.DestroySandbox(ctx, req.Force); err != nil {
		return nil, err
	}
	d.mux.CloseAll()
	return &Empty{}, nil
}

func (d *Dispatcher) createContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &CreateContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}

	bundle, err := ocispec.Load(req.BundlePath)
	if err != nil {
		return nil, err
	}

	ioCfg, err := d.openContainerIO(ctx, req.ContainerID, "", req.Terminal, req.Rows, req.Cols)
	if err != nil {
		return nil, err
	}

	if _, err := d.sb.CreateContainer(ctx, req.ContainerID, bundle, ioCfg); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// openContainerIO wires a process's stdio into the stream multiplexer:
// a pty when Terminal is requested, or a pipe trio otherwise. Returned
// *os.File handles are the child-side ends; the engine keeps the other
// end registered under a StreamID keyed by containerID/execID so the RPC
// client reads/writes them as ReadStdout/WriteStdin calls rather than
// raw fds.
func (d *Dispatcher) openContainerIO(ctx context.Context, containerID, execID string, terminal bool, rows, cols uint16) (sandbox.IOConfig, error) {
	if terminal {
		pty, err := kernelapi.NewPty(rows, cols)
		if err != nil {
			return sandbox.IOConfig{}, err
		}
		id := streammux.StreamID{ContainerID: containerID, ExecID: execID, Kind: streammux.KindStdout}
		d.mux.RegisterOutput(id, pty.Master)
		d.mux.RegisterInput(streammux.StreamID{ContainerID: containerID, ExecID: execID, Kind: streammux.KindStdin}, pty.Master)
		return sandbox.IOConfig{Terminal: true, Rows: rows, Cols: cols, PTY: pty}, nil
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return sandbox.IOConfig{}, err
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		return sandbox.IOConfig{}, err
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		return sandbox.IOConfig{}, err
	}

	d.mux.RegisterInput(streammux.StreamID{ContainerID: containerID, ExecID: execID, Kind: streammux.KindStdin}, stdinW)
	d.mux.RegisterOutput(streammux.StreamID{ContainerID: containerID, ExecID: execID, Kind: streammux.KindStdout}, stdoutR)
	d.mux.RegisterOutput(streammux.StreamID{ContainerID: containerID, ExecID: execID, Kind: streammux.KindStderr}, stderrR)

	return sandbox.IOConfig{Stdin: stdinR, Stdout: stdoutW, Stderr: stderrW}, nil
}

func (d *Dispatcher) startContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &StartContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx, d.sb); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) execProcess(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &ExecProcessRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}

	ioCfg, err := d.openContainerIO(ctx, req.ContainerID, req.ExecID, req.Terminal, req.Rows, req.Cols)
	if err != nil {
		return nil, err
	}

	if _, err := c.Exec(ctx, d.sb, req.ExecID, req.Process, ioCfg); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) signalProcess(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &SignalProcessRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := c.Signal(ctx, req.ExecID, syscall.Signal(req.Signal), req.All); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) waitProcess(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &WaitProcessRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	ch, err := c.Wait(ctx, req.ExecID)
	if err != nil {
		return nil, err
	}

	select {
	case exit := <-ch:
		if proc, perr := c.Process(req.ExecID); perr == nil {
			proc.MarkObserved()
		}
		return &WaitProcessResponse{
			ExitCode: int32(exit.Code),
			Signaled: exit.Signaled,
			Signal:   uint32(exit.Signal),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) statsContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &StatsContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsContainerResponse{Stats: stats}, nil
}

func (d *Dispatcher) pauseContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &PauseContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := c.Pause(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) resumeContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &ResumeContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := c.Resume(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) updateContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &UpdateContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := c.Update(ctx, req.Resources); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) removeContainer(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &RemoveContainerRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.RemoveContainer(ctx, req.ContainerID); err != nil {
		return nil, err
	}
	d.mux.CloseContainer(req.ContainerID)
	return &Empty{}, nil
}

func (d *Dispatcher) listProcesses(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	resp := &ListProcessesResponse{}
	for _, c := range d.sb.ListContainers() {
		for _, p := range c.Processes() {
			execID := p.ID
			if execID == c.ID {
				execID = ""
			}
			resp.Processes = append(resp.Processes, ProcessInfo{
				ContainerID: c.ID,
				ExecID:      execID,
				Pid:         p.Pid,
				Exited:      p.HasExited(),
			})
		}
	}
	return resp, nil
}

func (d *Dispatcher) writeStdin(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &WriteStdinRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	proc, err := c.Process(req.ExecID)
	if err != nil {
		return nil, err
	}
	if err := proc.WriteStdin(req.Data); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) closeStdin(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &CloseStdinRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	proc, err := c.Process(req.ExecID)
	if err != nil {
		return nil, err
	}
	if err := proc.CloseStdin(); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) ttyWinResize(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &TtyWinResizeRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	c, err := d.sb.Container(req.ContainerID)
	if err != nil {
		return nil, err
	}
	proc, err := c.Process(req.ExecID)
	if err != nil {
		return nil, err
	}
	if err := proc.Resize(req.Rows, req.Cols); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) addDevice(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &AddDeviceRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if err := d.sb.AddDevice(ctx, &req.Device, timeout); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) removeDevice(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &RemoveDeviceRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.RemoveDevice(req.DeviceID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) addStorage(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &AddStorageRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.AddStorage(&req.Storage); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) removeStorage(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &RemoveStorageRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.RemoveStorage(req.StorageID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) updateInterfaces(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &UpdateInterfacesRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.UpdateInterfaces(req.Interfaces); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) updateRoutes(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &UpdateRoutesRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.UpdateRoutes(req.Routes); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) listInterfaces(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	ifaces, err := d.sb.ListInterfaces()
	if err != nil {
		return nil, err
	}
	return &ListInterfacesResponse{Interfaces: ifaces}, nil
}

func (d *Dispatcher) listRoutes(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	routes, err := d.sb.ListRoutes()
	if err != nil {
		return nil, err
	}
	return &ListRoutesResponse{Routes: routes}, nil
}

func (d *Dispatcher) addARPNeighbors(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &AddARPNeighborsRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.AddARPNeighbors(req.Neighbors); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) setGuestDateTime(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &SetGuestDateTimeRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.SetGuestDateTime(time.Unix(req.Seconds, req.Nanoseconds)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) reseedRandom(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &ReseedRandomRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.ReseedRandom(req.Data); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) onlineCPUMem(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &OnlineCPUMemRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.OnlineCPUMem(req.NbCPUs, req.CPUOnly); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) memHotplugProbe(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &MemHotplugProbeRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	if err := d.sb.MemHotplugProbe(req.Addresses); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) copyFile(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	req := &CopyFileRequest{}
	if err := unmarshal(req); err != nil {
		return nil, err
	}
	chunk := sandbox.CopyFileChunk{
		Path:     req.Path,
		DirMode:  modeFromUnix(req.DirMode),
		FileMode: modeFromUnix(req.FileMode),
		Uid:      req.Uid,
		Gid:      req.Gid,
		Offset:   req.Offset,
		Data:     req.Data,
		FileSize: req.FileSize,
	}
	if err := d.sb.CopyFile(chunk); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (d *Dispatcher) check(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	// Deliberately does not touch d.sb's locks: health checks must answer
	// even while a container create/delete holds the sandbox busy.
	return &CheckResponse{Healthy: true}, nil
}

func (d *Dispatcher) getMetrics(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	text, err := gatherMetrics()
	if err != nil {
		return nil, err
	}
	return &GetMetricsResponse{Metrics: text}, nil
}

func (d *Dispatcher) getOOMEvents(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	return &GetOOMEventsResponse{ContainerIDs: d.sb.GetOOMEvents()}, nil
}

func (d *Dispatcher) getGuestDetails(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
	details, err := d.sb.GetGuestDetails()
	if err != nil {
		return nil, err
	}
	return &GetGuestDetailsResponse{Details: details}, nil
}
