// Package streammux implements the stream multiplexer (C5 in the design):
// it owns every process's stdio fd, packages reads into tagged frames for
// the transport, and routes host-supplied writes back to the right stdin.
package streammux

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "streammux")

// SetLogger attaches contextual fields from the caller's logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Kind distinguishes the four frame categories the RPC layer streams.
type Kind int

const (
	KindStdin Kind = iota
	KindStdout
	KindStderr
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	case KindEvent:
		return "event"
	}
	return "unknown"
}

// StreamID addresses one multiplexed stream: a container's init process
// (ExecID == "") or one of its exec sessions, in one direction/kind.
type StreamID struct {
	ContainerID string
	ExecID      string
	Kind        Kind
}

// Frame is one unit the multiplexer hands to the transport: either a
// chunk of data or, when Closed is set, the close notification the
// owning fd hit EOF on (spec.md §4.5: "EOF on a stdio fd produces a
// close frame").
type Frame struct {
	Stream StreamID
	Data   []byte
	Closed bool
}

// bufSize matches the copy buffer size the teacher's own shim-side IO
// relay uses; reused here so a single full buffer is exactly one frame.
const bufSize = 32 << 10

// Mux owns every registered stream for a sandbox. Backpressure is
// implemented as the reader goroutine blocking on the bounded output
// channel: a slow transport stalls reads from the underlying fd instead
// of this process buffering unboundedly (spec.md §4.5).
type Mux struct {
	mu     sync.Mutex
	stdins map[StreamID]io.WriteCloser
	outs   map[StreamID]io.Closer

	out    chan Frame
	closed bool
}

// NewMux constructs a Mux whose output channel holds at most capacity
// unread frames before a reader goroutine blocks.
func NewMux(capacity int) *Mux {
	if capacity <= 0 {
		capacity = 1
	}
	return &Mux{
		stdins: make(map[StreamID]io.WriteCloser),
		outs:   make(map[StreamID]io.Closer),
		out:    make(chan Frame, capacity),
	}
}

// Frames returns the channel the RPC/transport layer drains frames from.
func (m *Mux) Frames() <-chan Frame {
	return m.out
}

// RegisterOutput starts a reader goroutine over r, tagging every chunk it
// reads with id and pushing it onto the shared output channel. r is
// closed once EOF is reached or the Mux itself is closed.
func (m *Mux) RegisterOutput(id StreamID, r io.ReadCloser) {
	m.mu.Lock()
	m.outs[id] = r
	m.mu.Unlock()

	go m.pump(id, r)
}

func (m *Mux) pump(id StreamID, r io.ReadCloser) {
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !m.send(Frame{Stream: id, Data: chunk}) {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).WithField("stream", id).Debug("stream read ended with error")
			}
			break
		}
	}
	r.Close()
	m.send(Frame{Stream: id, Closed: true})

	m.mu.Lock()
	delete(m.outs, id)
	m.mu.Unlock()
}

// send delivers f, returning false if the Mux has since been closed (the
// reader loop should stop pumping in that case).
func (m *Mux) send(f Frame) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.out <- f
	return true
}

// RegisterInput records w as the destination for WriteStdin calls
// addressed to id.
func (m *Mux) RegisterInput(id StreamID, w io.WriteCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdins[id] = w
}

// WriteStdin delivers data to id's registered stdin fd.
func (m *Mux) WriteStdin(id StreamID, data []byte) error {
	m.mu.Lock()
	w, ok := m.stdins[id]
	m.mu.Unlock()
	if !ok {
		return io.ErrClosedPipe
	}
	_, err := w.Write(data)
	return err
}

// CloseStdin closes id's stdin fd -- the guest-visible EOF a host close
// frame produces (spec.md §4.5).
func (m *Mux) CloseStdin(id StreamID) error {
	m.mu.Lock()
	w, ok := m.stdins[id]
	delete(m.stdins, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Close()
}

// CloseContainer closes every stream belonging to containerID (its init
// and any exec sessions), used once RemoveContainer has dropped the
// container's state so its fds don't linger in the registries forever.
func (m *Mux) CloseContainer(containerID string) {
	m.mu.Lock()
	var toClose []io.Closer
	for id, c := range m.outs {
		if id.ContainerID == containerID {
			toClose = append(toClose, c)
			delete(m.outs, id)
		}
	}
	for id, c := range m.stdins {
		if id.ContainerID == containerID {
			toClose = append(toClose, c)
			delete(m.stdins, id)
		}
	}
	m.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
}

// CloseAll closes every registered stream, the response to a fatal
// transport error (spec.md §4.5: "causes all streams to close and the
// sandbox to enter stopping").
func (m *Mux) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	outs := m.outs
	stdins := m.stdins
	m.outs = nil
	m.stdins = nil
	m.mu.Unlock()

	for _, c := range outs {
		c.Close()
	}
	for _, c := range stdins {
		c.Close()
	}
	close(m.out)
}
