// Command kata-agent-go is the guest-side entry point: PID 1 (or a
// sibling of it) inside a lightweight VM, fronting the sandbox/container
// engine over a vsock or unix-socket RPC channel.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-agent-go/internal/bootstrap"
	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
	"github.com/kata-containers/kata-agent-go/internal/rpc"
	"github.com/kata-containers/kata-agent-go/internal/sandbox"
	"github.com/kata-containers/kata-agent-go/internal/streammux"
)

// defaultVsockPort is the well-known port the host-side hypervisor
// launcher dials to reach the agent; port 1024 is the first unprivileged
// vsock port, matching the convention the hybrid-vsock/firecracker
// transport already reserves for this channel.
const defaultVsockPort = 1024

// muxCapacity bounds how many unread stdio frames the stream multiplexer
// holds before a reader goroutine blocks, per spec.md §4.5's "suspend
// rather than buffer" backpressure requirement.
const muxCapacity = 256

func main() {
	if len(os.Args) > 1 && kernelapi.IsNsenterSubcommand(os.Args[1]) {
		// RunNsenterHelper only ever returns on failure -- success ends in
		// unix.Exec replacing this process image. Every return here is
		// therefore a PreExecStep/setns/exec-lookup failure before the
		// real command ever started, so it gets the distinguishable exit
		// code rather than being conflated with the command's own exit
		// status.
		if err := kernelapi.RunNsenterHelper(os.Args[2:]); err != nil {
			os.Exit(kernelapi.ChildSetupFailureExitCode)
		}
		return
	}

	log := newLogger()
	sandbox.SetLogger(log) // also attaches kernelapi's and ocispec's loggers
	streammux.SetLogger(log)
	rpc.SetLogger(log)
	bootstrap.SetLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown, err := bootstrap.Run(ctx, bootstrap.Config{KernelModules: kernelModulesFromEnv()})
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}
	defer shutdown()

	listener, err := newListener()
	if err != nil {
		log.WithError(err).Fatal("failed to open RPC transport")
	}
	defer listener.Close()

	sb := sandbox.NewSandbox(os.Getenv("KATA_SANDBOX_ID"))
	mux := streammux.NewMux(muxCapacity)

	dispatcher, err := rpc.NewDispatcher(sb, mux)
	if err != nil {
		log.WithError(err).Fatal("failed to construct RPC dispatcher")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Info("shutting down RPC dispatcher")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		_ = dispatcher.Shutdown(shutdownCtx)
		cancel()
	}()

	log.WithField("addr", listener.Addr()).Info("agent listening")
	if err := dispatcher.Serve(ctx, listener); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("RPC dispatcher exited with error")
	}
}

func newLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if s := os.Getenv("KATA_AGENT_LOG_LEVEL"); s != "" {
		if parsed, err := logrus.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)

	return logger.WithField("source", "kata-agent-go")
}

// newListener picks the RPC transport: vsock when KATA_AGENT_VSOCK_PORT
// is set (the normal hypervisor-launched case), otherwise a unix socket
// at KATA_AGENT_SOCKET_PATH for local testing without a VM.
func newListener() (net.Listener, error) {
	if portStr := os.Getenv("KATA_AGENT_VSOCK_PORT"); portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			port = defaultVsockPort
		}
		return vsock.Listen(uint32(port), nil)
	}

	path := os.Getenv("KATA_AGENT_SOCKET_PATH")
	if path == "" {
		path = "/run/kata-containers/agent.sock"
	}
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

func kernelModulesFromEnv() []string {
	s := os.Getenv("KATA_AGENT_KERNEL_MODULES")
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}

const shutdownGrace = 5 * time.Second
