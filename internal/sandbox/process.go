package sandbox

import (
	"os"
	"sync"
	"syscall"

	"github.com/kata-containers/kata-agent-go/internal/kataerr"
)

// ExitState is a snapshot of a Process's termination: it is produced
// exactly once and retained until every waiter has been served (spec.md
// §3 Process invariants).
type ExitState struct {
	Code     int
	Signal   syscall.Signal
	Signaled bool
}

// processState enumerates a Process's lifecycle.
type processState int

const (
	processNotSpawned processState = iota
	processRunning
	processExited
)

// Process is one in-guest process: a container's init, or one of its exec
// sessions. Exactly one of Stdin/Stdout/Stderr or PTY is populated,
// depending on whether the OCI process requested a terminal.
type Process struct {
	ID  string // init uses the container ID; execs get a fresh exec ID
	Pid int

	mu       sync.Mutex
	state    processState
	exit     ExitState
	waiters  []chan ExitState
	observed bool // "zombie-collected": exit seen but process not yet removed

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
	PTY    ptyCloser // non-nil when a terminal was requested

	CgroupPath string

	// syncWrite is the write end of the init process's synchronization
	// pipe; held here so Start() can release it later. Exec sessions
	// never set this -- they start running immediately.
	syncWrite *os.File
}

// ptyCloser is the subset of kernelapi.PtyPair this package depends on, so
// sandbox does not need to import kernelapi's console dependency directly
// for its struct fields.
type ptyCloser interface {
	Close() error
	Resize(rows, cols uint16) error
}

// NewProcess constructs a not-yet-spawned Process record.
func NewProcess(id string) *Process {
	return &Process{ID: id, state: processNotSpawned}
}

// MarkRunning records the kernel pid once Spawn succeeds.
func (p *Process) MarkRunning(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pid = pid
	p.state = processRunning
}

// MarkExited records the process's exit exactly once and fulfills every
// waiter registered so far, in registration order (spec.md §5 ordering
// guarantee). Waiters that register after this call are served
// immediately by Wait below, from the retained exit state.
func (p *Process) MarkExited(exit ExitState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == processExited {
		return // reaper notifications are idempotent
	}
	p.state = processExited
	p.exit = exit
	for _, w := range p.waiters {
		w <- exit
		close(w)
	}
	p.waiters = nil
}

// Wait registers a waiter and returns a channel fulfilled once with the
// exit state. If the process has already exited, the channel is delivered
// to immediately (buffered, so the caller never races the registration
// against MarkExited).
func (p *Process) Wait() <-chan ExitState {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan ExitState, 1)
	if p.state == processExited {
		ch <- p.exit
		close(ch)
		return ch
	}
	p.waiters = append(p.waiters, ch)
	return ch
}

// HasExited reports whether MarkExited has already run.
func (p *Process) HasExited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == processExited
}

// MarkObserved records that a caller has collected the exit status.
// Nothing in this package reads the flag: ExitOrNotSpawned, which
// delete() uses, decides on the process state alone.
func (p *Process) MarkObserved() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observed = true
}

// WriteStdin writes data to the process's stdin, whichever of PTY master
// or the plain Stdin pipe is populated.
func (p *Process) WriteStdin(data []byte) error {
	if p.PTY != nil {
		w, ok := p.PTY.(interface{ Write([]byte) (int, error) })
		if !ok {
			return &kataerr.Internal{Reason: "process " + p.ID + " pty does not support writes"}
		}
		_, err := w.Write(data)
		return err
	}
	if p.Stdin == nil {
		return &kataerr.NotFound{Kind: "stdin", ID: p.ID}
	}
	_, err := p.Stdin.Write(data)
	return err
}

// CloseStdin closes the write side of the process's stdin, signalling
// EOF to it.
func (p *Process) CloseStdin() error {
	if p.Stdin != nil {
		return p.Stdin.Close()
	}
	return nil
}

// Resize applies a new terminal size; a no-op for non-tty processes.
func (p *Process) Resize(rows, cols uint16) error {
	if p.PTY == nil {
		return nil
	}
	return p.PTY.Resize(rows, cols)
}

// ExitOrNotSpawned returns the invariant-1 check: either the process
// exited, or it was never spawned at all.
func (p *Process) ExitOrNotSpawned() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == processNotSpawned || p.state == processExited {
		return nil
	}
	return &kataerr.Internal{Reason: "process " + p.ID + " is still running"}
}
