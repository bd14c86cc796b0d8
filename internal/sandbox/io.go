package sandbox

import (
	"os"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// IOConfig tells Create/Exec how to wire up a process's stdio. When
// Terminal is set, PTY must already be allocated by the caller (the RPC
// layer, which also registers its master end with the stream
// multiplexer) -- sandbox just hands the slave to the child. Otherwise
// Stdin/Stdout/Stderr are the child-side ends of pipes the stream
// multiplexer already created and owns the other end of -- sandbox just
// dups them onto the child's 0/1/2 and never touches the parent-side
// ends itself.
type IOConfig struct {
	Terminal   bool
	Rows, Cols uint16
	PTY        *kernelapi.PtyPair

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}
