package streammux

import (
	"context"
	"syscall"

	"github.com/containerd/fifo"
)

// PipeIO holds the guest-side ends of the three named pipes a non-tty
// process's stdio plumbs through (spec.md §4.3 stdio plumbing). Unlike a
// pty's single fd, stdout and stderr are independent here.
type PipeIO struct {
	Stdin  *fifo.Fifo
	Stdout *fifo.Fifo
	Stderr *fifo.Fifo
}

// OpenPipeIO opens (creating if needed) the three named pipes at the
// given paths, non-blocking on the read end the way the teacher's shim-
// side relay does, so a reader never wedges waiting for a writer that
// hasn't shown up yet.
func OpenPipeIO(ctx context.Context, stdinPath, stdoutPath, stderrPath string) (*PipeIO, error) {
	p := &PipeIO{}

	if stdinPath != "" {
		in, err := fifo.OpenFifo(ctx, stdinPath, syscall.O_RDONLY|syscall.O_NONBLOCK|syscall.O_CREAT, 0600)
		if err != nil {
			return nil, err
		}
		p.Stdin = in
	}

	if stdoutPath != "" {
		out, err := fifo.OpenFifo(ctx, stdoutPath, syscall.O_WRONLY|syscall.O_CREAT, 0600)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Stdout = out
	}

	if stderrPath != "" {
		errf, err := fifo.OpenFifo(ctx, stderrPath, syscall.O_WRONLY|syscall.O_CREAT, 0600)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.Stderr = errf
	}

	return p, nil
}

// Close closes whichever of the three pipes were opened.
func (p *PipeIO) Close() error {
	var firstErr error
	for _, f := range []*fifo.Fifo{p.Stdin, p.Stdout, p.Stderr} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
