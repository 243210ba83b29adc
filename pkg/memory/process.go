package memory

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessNotFound is returned when no running process has the given name.
var ErrProcessNotFound = errors.New("process not found")

// FindProcess returns the lowest PID whose process name equals name.
func FindProcess(ctx context.Context, name string) (int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list processes")
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })

	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		// Processes may exit while we iterate.
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if n == name {
			return p.Pid, nil
		}
	}
	return 0, errors.Wrapf(ErrProcessNotFound, "%q", name)
}

// ProcessName returns the name of the process with the given PID.
func ProcessName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", errors.Wrapf(err, "process %d", pid)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "process %d name", pid)
	}
	return name, nil
}
