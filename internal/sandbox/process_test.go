package sandbox

import (
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessWaitDeliversToAllRegisteredWaitersInOrder(t *testing.T) {
	assert := assert.New(t)
	p := NewProcess("init")
	p.MarkRunning(123)

	const waiters = 5
	chans := make([]<-chan ExitState, waiters)
	for i := range chans {
		chans[i] = p.Wait()
	}

	exit := ExitState{Code: 7}
	p.MarkExited(exit)

	var wg sync.WaitGroup
	wg.Add(waiters)
	for _, ch := range chans {
		ch := ch
		go func() {
			defer wg.Done()
			got, ok := <-ch
			assert.True(ok)
			assert.Equal(exit, got)
		}()
	}
	wg.Wait()
}

func TestProcessWaitAfterExitIsServedImmediately(t *testing.T) {
	assert := assert.New(t)
	p := NewProcess("init")
	p.MarkRunning(123)
	p.MarkExited(ExitState{Signaled: true, Signal: syscall.SIGKILL})

	got := <-p.Wait()
	assert.True(got.Signaled)
	assert.Equal(syscall.SIGKILL, got.Signal)
}

func TestProcessMarkExitedIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	p := NewProcess("init")
	p.MarkRunning(123)

	p.MarkExited(ExitState{Code: 1})
	p.MarkExited(ExitState{Code: 99}) // a second reaper notification must not overwrite the first

	got := <-p.Wait()
	assert.Equal(1, got.Code)
}

func TestProcessExitOrNotSpawned(t *testing.T) {
	assert := assert.New(t)

	notSpawned := NewProcess("a")
	assert.NoError(notSpawned.ExitOrNotSpawned())

	running := NewProcess("b")
	running.MarkRunning(1)
	assert.Error(running.ExitOrNotSpawned())

	exited := NewProcess("c")
	exited.MarkRunning(1)
	exited.MarkExited(ExitState{})
	assert.NoError(exited.ExitOrNotSpawned())
}
