package streammux

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeFiles(t *testing.T) (io.ReadCloser, io.WriteCloser, error) {
	t.Helper()
	r, w, err := os.Pipe()
	return r, w, err
}

func TestMuxRegisterOutputDeliversFramesAndClose(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r, w, err := pipeFiles(t)
	require.NoError(err)

	m := NewMux(8)
	id := StreamID{ContainerID: "c1", Kind: KindStdout}
	m.RegisterOutput(id, r)

	_, err = w.Write([]byte("hello"))
	require.NoError(err)

	frame := recvFrame(t, m)
	assert.Equal(id, frame.Stream)
	assert.Equal([]byte("hello"), frame.Data)
	assert.False(frame.Closed)

	w.Close()

	closeFrame := recvFrame(t, m)
	assert.True(closeFrame.Closed)
}

func TestMuxWriteStdinRoutesToRegisteredInput(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r, w, err := pipeFiles(t)
	require.NoError(err)

	m := NewMux(8)
	id := StreamID{ContainerID: "c1", Kind: KindStdin}
	m.RegisterInput(id, w)

	require.NoError(m.WriteStdin(id, []byte("input")))
	w.Close()

	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	assert.Equal("input", string(buf[:n]))
}

func TestMuxWriteStdinUnknownStreamErrors(t *testing.T) {
	m := NewMux(8)
	err := m.WriteStdin(StreamID{ContainerID: "nope"}, []byte("x"))
	assert.Equal(t, io.ErrClosedPipe, err)
}

func TestMuxCloseContainerOnlyClosesThatContainersStreams(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	r1, w1, err := pipeFiles(t)
	require.NoError(err)
	r2, w2, err := pipeFiles(t)
	require.NoError(err)
	defer w2.Close()

	m := NewMux(8)
	m.RegisterOutput(StreamID{ContainerID: "a", Kind: KindStdout}, r1)
	m.RegisterOutput(StreamID{ContainerID: "b", Kind: KindStdout}, r2)

	m.CloseContainer("a")
	w1.Close()

	// container "a"'s stream already closed on its own; container "b"'s
	// stream must still be alive.
	_, err = w2.Write([]byte("still alive"))
	assert.NoError(err)
}

func recvFrame(t *testing.T, m *Mux) Frame {
	t.Helper()
	select {
	case f := <-m.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}
