package streammux

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStringNamesEveryValue(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("stdin", KindStdin.String())
	assert.Equal("stdout", KindStdout.String())
	assert.Equal("stderr", KindStderr.String())
	assert.Equal("event", KindEvent.String())
	assert.Equal("unknown", Kind(99).String())
}

func TestPublishEventDeliversEncodedFrame(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	m := NewMux(8)
	id := StreamID{ContainerID: "c1", ExecID: "e1"}

	require.NoError(m.PublishEvent(id, &ExitEvent{ContainerID: "c1", ExecID: "e1", ExitCode: 7}))

	frame := recvFrame(t, m)
	assert.Equal(KindEvent, frame.Stream.Kind)
	assert.NotEmpty(frame.Data)
}

func TestPublishEventOnClosedMuxErrors(t *testing.T) {
	m := NewMux(8)
	m.CloseAll()
	err := m.PublishEvent(StreamID{ContainerID: "c1"}, &OOMEvent{ContainerID: "c1"})
	assert.Equal(t, errMuxClosed, err)
}

func TestCloseStdinClosesAndDeregisters(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r, w, err := os.Pipe()
	require.NoError(err)
	defer r.Close()

	m := NewMux(8)
	id := StreamID{ContainerID: "c1", Kind: KindStdin}
	m.RegisterInput(id, w)

	require.NoError(m.CloseStdin(id))
	assert.Equal(io.ErrClosedPipe, m.WriteStdin(id, []byte("x")))

	// closing again is a no-op, not a double-close panic.
	assert.NoError(m.CloseStdin(id))
}

func TestCloseAllIsIdempotentAndClosesEverything(t *testing.T) {
	require := require.New(t)

	r, w, err := os.Pipe()
	require.NoError(err)
	defer w.Close()

	m := NewMux(8)
	m.RegisterOutput(StreamID{ContainerID: "c1", Kind: KindStdout}, r)

	m.CloseAll()
	m.CloseAll()
}
