package rpc

import (
	"context"
	"net"

	"github.com/containerd/ttrpc"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kata-containers/kata-agent-go/internal/sandbox"
	"github.com/kata-containers/kata-agent-go/internal/streammux"
)

var log = logrus.WithField("subsystem", "rpc")

// SetLogger attaches contextual fields from the caller's logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const serviceName = "kataagent.AgentService"

var tracer = otel.Tracer("kata-agent-go/rpc")

// Dispatcher is the RPC dispatcher (C6): it owns the single Sandbox this
// agent process serves and the stream multiplexer backing every
// process's stdio, and exposes them as a ttrpc service.
type Dispatcher struct {
	sb  *sandbox.Sandbox
	mux *streammux.Mux

	server *ttrpc.Server
}

// NewDispatcher wires a ttrpc server, registering one method per request
// kind spec.md §6 lists. Every request/response type in this package
// implements Marshal/Unmarshal directly (see marshal.go) in place of the
// generated protobuf code real kata-agent deployments use, since this
// module has no protoc code-generation step -- ttrpc's built-in codec
// falls back to those methods via type assertion when a payload isn't a
// proto.Message, so the framing and multiplexing it provides over the
// transport is reused unchanged.
func NewDispatcher(sb *sandbox.Sandbox, mux *streammux.Mux) (*Dispatcher, error) {
	server, err := ttrpc.NewServer()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{sb: sb, mux: mux, server: server}
	server.Register(serviceName, d.methods())
	return d, nil
}

// Serve runs the dispatcher's accept loop over l until ctx is cancelled
// or the listener closes.
func (d *Dispatcher) Serve(ctx context.Context, l net.Listener) error {
	return d.server.Serve(ctx, l)
}

// Shutdown cancels in-flight handlers and stops accepting new requests --
// spec.md §4.6's cancellation contract: containers created but not
// started are left for the caller to clean up explicitly, since the
// dispatcher itself does not know which half-created containers are
// abandoned versus mid-retry.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.server.Shutdown(ctx)
}

// traced wraps a handler body with an otel span tagged with the request
// kind, matching the "per-RPC span" DOMAIN STACK entry -- no exporter is
// configured, so this is pure instrumentation surface until one is wired
// in by whoever deploys the agent.
func traced(ctx context.Context, kind string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	ctx, span := tracer.Start(ctx, kind, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	return fn(ctx)
}

func method(kind string, fn func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error)) ttrpc.Method {
	return func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
		return traced(ctx, kind, func(ctx context.Context) (interface{}, error) {
			return fn(ctx, unmarshal)
		})
	}
}
