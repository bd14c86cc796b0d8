package sandbox

import (
	"os"

	"github.com/kata-containers/kata-agent-go/internal/kernelapi"
)

// watchOOM starts a background reader on cg's OOM eventfd, pushing
// containerID onto the sandbox's OOM queue each time the memory
// controller kills one of the container's tasks. The goroutine exits
// once the eventfd read fails, which happens once the cgroup is deleted.
func (sb *Sandbox) watchOOM(containerID string, cg *kernelapi.CgroupHandle) {
	fd, err := cg.OOMEventFD()
	if err != nil {
		log.WithError(err).WithField("container", containerID).Warn("oom notifications unavailable for this hierarchy")
		return
	}

	go func() {
		f := os.NewFile(fd, "oom-event")
		defer f.Close()

		buf := make([]byte, 8)
		for {
			if _, err := f.Read(buf); err != nil {
				return
			}
			sb.pushOOMEvent(containerID)
		}
	}()
}

func (sb *Sandbox) pushOOMEvent(containerID string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.oomEvents = append(sb.oomEvents, containerID)
}

// GetOOMEvents drains and returns every container ID that has hit its
// memory limit since the last call.
func (sb *Sandbox) GetOOMEvents() []string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	events := sb.oomEvents
	sb.oomEvents = nil
	return events
}
