//go:build linux

package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
)

const maxProbeAttempts = 100

// armRunningProbe schedules the image-swap probe described in spec.md
// §4.9 step 7: while /proc/<pid>/comm still names the sandbox helper, the
// job hasn't exec'd into the user workload yet. attempt is 1-based.
func (r *Runner) armRunningProbe(j *job.Job, pid int, attempt int) {
	delay := probeDelay(attempt)
	r.pool.Submit(func() {
		time.Sleep(delay)
		r.checkRunningProbe(j, pid, attempt)
	})
}

// probeDelay returns 100ms for attempt 1 (the initial arm), then
// 100*2^n ms for n = 1..5, capped at 5s thereafter.
func probeDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 100 * time.Millisecond
	}
	n := attempt - 1
	if n > 5 {
		return 5 * time.Second
	}
	ms := 100 * (1 << uint(n))
	if ms > 5000 {
		ms = 5000
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Runner) checkRunningProbe(j *job.Job, pid int, attempt int) {
	j.Lock()
	terminal := j.Status.IsTerminal()
	j.Unlock()
	if terminal {
		return
	}

	comm, err := readComm(pid)
	if err != nil {
		// Process already gone; the exit reaper will handle the
		// transition, nothing more for the probe to do.
		return
	}

	sandboxName := filepath.Base(r.cfg.SandboxPath)
	if comm != sandboxName {
		r.n.Publish(j, job.StatusRunning, "", nil, time.Time{})
		return
	}

	if attempt >= maxProbeAttempts {
		r.log.Warn("running probe exhausted retries, image never swapped", "jobId", j.ID, "pid", pid)
		return
	}
	r.armRunningProbe(j, pid, attempt+1)
}

func readComm(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
