package streammux

import (
	"errors"

	typeurl "github.com/containerd/typeurl/v2"
)

var errMuxClosed = errors.New("stream multiplexer is closed")

func init() {
	typeurl.Register(&ExitEvent{}, "kata-agent-go", "streammux", "ExitEvent")
	typeurl.Register(&OOMEvent{}, "kata-agent-go", "streammux", "OOMEvent")
}

// ExitEvent is published once a process exits, the payload behind a
// KindEvent frame that WaitProcess-style long-poll callers don't need --
// it exists for callers that subscribed to the event stream instead.
type ExitEvent struct {
	ContainerID string
	ExecID      string
	ExitCode    int
	Signaled    bool
}

// OOMEvent is published when a container's cgroup reports an
// out-of-memory kill, backing GetOOMEvents (spec.md §6).
type OOMEvent struct {
	ContainerID string
}

// PublishEvent encodes v with typeurl (so the transport can decode it
// without the guest and host sharing a Go type, only a registered type
// URL) and pushes it as a KindEvent frame tagged to id.
func (m *Mux) PublishEvent(id StreamID, v interface{}) error {
	id.Kind = KindEvent

	any, err := typeurl.MarshalAny(v)
	if err != nil {
		return err
	}

	if !m.send(Frame{Stream: id, Data: any.GetValue()}) {
		return errMuxClosed
	}
	return nil
}
