package kernelapi

import (
	"os"

	"github.com/containerd/console"
)

// PtyPair is a freshly allocated pty: Master stays with the engine (wired
// into the stream multiplexer), Slave is handed to the child as its
// controlling terminal and 0/1/2.
type PtyPair struct {
	Master console.Console
	Slave  *os.File
}

// NewPty allocates a pty pair and sets the slave's initial window size.
func NewPty(rows, cols uint16) (*PtyPair, error) {
	master, slavePath, err := console.NewPty()
	if err != nil {
		return nil, wrap("openpty", err, "")
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
	if err != nil {
		master.Close()
		return nil, wrap("open", err, slavePath)
	}

	if err := master.Resize(console.WinSize{Height: rows, Width: cols}); err != nil {
		master.Close()
		slave.Close()
		return nil, wrap("ioctl(TIOCSWINSZ)", err, slavePath)
	}

	return &PtyPair{Master: master, Slave: slave}, nil
}

// Resize applies a new terminal size to the master, used by TtyWinResize.
func (p *PtyPair) Resize(rows, cols uint16) error {
	if err := p.Master.Resize(console.WinSize{Height: rows, Width: cols}); err != nil {
		return wrap("ioctl(TIOCSWINSZ)", err, "")
	}
	return nil
}

// Write sends data to the pty master, i.e. the process's stdin.
func (p *PtyPair) Write(data []byte) (int, error) {
	return p.Master.Write(data)
}

// Close releases both ends of the pty pair.
func (p *PtyPair) Close() error {
	merr := p.Master.Close()
	serr := p.Slave.Close()
	if merr != nil {
		return wrap("close", merr, "pty master")
	}
	if serr != nil {
		return wrap("close", serr, "pty slave")
	}
	return nil
}
