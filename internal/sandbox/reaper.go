package sandbox

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// watchedProcess pairs a Process with the bookkeeping its owner wants run
// once the kernel reports it gone. onExit is optional and is used by
// Container.Create to transition the container to stopped when its init
// exits on its own, the "observed by the reaper" half of Stop's contract.
type watchedProcess struct {
	proc   *Process
	onExit func(ExitState)
}

// Reaper is the process-wide SIGCHLD collector: one per agent process,
// started by the bootstrap sequence before any container can spawn a
// child, since an unclaimed zombie would otherwise pile up under init's
// pid 1 reparenting duty.
//
// Watch and reap() share the embedded lock, and both take it for writing:
// registrations serialize against each other and against a reap pass, so
// the watched map is never read while it is being changed.
type Reaper struct {
	sync.RWMutex

	watched map[int]*watchedProcess

	sigCh chan os.Signal
	done  chan struct{}
}

// NewReaper constructs an unstarted Reaper.
func NewReaper() *Reaper {
	return &Reaper{
		watched: make(map[int]*watchedProcess),
		sigCh:   make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
}

// processReaper is the single reaper every Container in this agent
// process registers its spawned pids with. There is exactly one guest
// agent per VM and exactly one pid 1, so a package-level singleton here
// carries no less generality than threading a *Reaper through every
// Sandbox/Container would, and it lets bootstrap start collecting exits
// before the first CreateSandbox call exists to own one.
var processReaper = NewReaper()

// Start installs the SIGCHLD handler and begins collecting exits in the
// background.
func (r *Reaper) Start() {
	signal.Notify(r.sigCh, syscall.SIGCHLD)
	go r.run()
}

// Stop removes the signal handler and ends the collection goroutine.
func (r *Reaper) Stop() {
	signal.Stop(r.sigCh)
	close(r.done)
}

func (r *Reaper) run() {
	for {
		select {
		case <-r.done:
			return
		case <-r.sigCh:
			r.reap()
		}
	}
}

// Watch registers pid so a future reap() call fulfills proc's waiters.
// Callers must register before the child can possibly have exited --
// spawnPending/spawnExec call this immediately after kernelapi.Spawn
// returns, while still holding whatever lock serializes against a
// concurrent reap.
func (r *Reaper) Watch(pid int, proc *Process, onExit func(ExitState)) {
	r.Lock()
	defer r.Unlock()
	r.watched[pid] = &watchedProcess{proc: proc, onExit: onExit}
}

// reap drains every exited child with a single non-blocking wait4 loop,
// the same coalescing pattern used against SIGCHLD bursts: the signal
// only tells you "at least one child changed state", never how many.
func (r *Reaper) reap() {
	r.Lock()
	defer r.Unlock()

	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid < 1 {
			return
		}

		w, known := r.watched[pid]
		delete(r.watched, pid)
		if !known {
			// Reaped on init's behalf (e.g. a double-forked orphan);
			// nothing here is waiting on it.
			continue
		}

		exit := ExitState{}
		if ws.Signaled() {
			exit.Signaled = true
			exit.Signal = ws.Signal()
		} else {
			exit.Code = ws.ExitStatus()
		}

		w.proc.MarkExited(exit)
		if w.onExit != nil {
			w.onExit(exit)
		}
	}
}
