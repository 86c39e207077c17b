package process

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const queryTimeout = 2 * time.Second

// ChildPIDs returns every descendant of pid, depth first.
// A process without children, or one that no longer exists, yields nil.
func ChildPIDs(pid int) ([]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, err
	}
	var out []int
	if err := collectChildren(ctx, p, &out); err != nil {
		return out, err
	}
	return out, nil
}

func collectChildren(ctx context.Context, p *process.Process, out *[]int) error {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) || errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	for _, c := range children {
		*out = append(*out, int(c.Pid))
		if err := collectChildren(ctx, c, out); err != nil {
			return err
		}
	}
	return nil
}

// IsListening reports whether pid, or one of its descendants, holds a
// listening socket on port. Any lookup error counts as not listening.
func IsListening(pid, port int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	pids := []int{pid}
	if kids, err := ChildPIDs(pid); err == nil {
		pids = append(pids, kids...)
	}
	for _, id := range pids {
		p, err := process.NewProcessWithContext(ctx, int32(id))
		if err != nil {
			continue
		}
		conns, err := p.ConnectionsWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) {
				return true
			}
		}
	}
	return false
}

// AvailableMemory returns the bytes of RAM the host reports as available.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
