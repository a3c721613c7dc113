//go:build linux

// Package runner implements the local job runner (C10): the JobSource
// that spawns the configured sandbox helper as a child process, tracks
// its PID, probes for the Pending->Running image-swap transition, and
// reaps its exit. Grounded on the teacher's process.Manager/LaunchProcess
// shape (internal/joblet/core/process and job_executor.go's
// processManagerAdapter), adapted from "launch inside a namespace-
// isolated init" to "launch a configured external sandbox helper".
package runner

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/localbackend/store"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/pluginrt"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Config bundles the local runner's construction-time options.
type Config struct {
	SandboxPath     string
	Hostname        string
	Unprivileged    bool
	SecureCookieKey []byte // nil disables encrypted-password decryption
}

// Runner is the local backend's JobSource implementation.
type Runner struct {
	cfg   Config
	store *store.Store
	n     *notifier.Notifier
	pool  *asyncrt.Runtime
	log   *logger.Logger

	mu        sync.Mutex
	processes map[string]*os.Process
}

// New creates a Runner. pool is the worker pool the exit-reaper and
// running-probe callbacks run on. n may be nil at construction time and
// supplied afterward via SetNotifier, since the plugin runtime's notifier
// (the instance the repository, pruner, and streams are all wired to)
// isn't constructed until after a JobSource exists to hand it — see
// internal/launchercli/run.go's wiring order.
func New(cfg Config, st *store.Store, n *notifier.Notifier, pool *asyncrt.Runtime) *Runner {
	return &Runner{
		cfg:       cfg,
		store:     st,
		n:         n,
		pool:      pool,
		log:       logger.WithField("component", "local-runner"),
		processes: make(map[string]*os.Process),
	}
}

// SetNotifier supplies the notifier the runner publishes job status
// updates to. Must be called before any job is submitted.
func (r *Runner) SetNotifier(n *notifier.Notifier) { r.n = n }

// Initialize verifies the sandbox helper is present. The job/output
// directories themselves are the store's responsibility (repository.Hooks
// runs OnInitialize before this is called).
func (r *Runner) Initialize() error {
	if _, err := os.Stat(r.cfg.SandboxPath); err != nil {
		return fmt.Errorf("sandbox helper not found at %s: %w", r.cfg.SandboxPath, err)
	}
	return nil
}

// GetJobs reports no additional jobs beyond what the store already
// persisted: the local backend has no external system of record, so
// everything the launcher needs to know was already loaded by
// repository.Initialize via the store's Hooks.LoadJobs.
func (r *Runner) GetJobs() ([]*job.Job, error) { return nil, nil }

// GetConfiguration reports the local backend's static capabilities: no
// container support, a single implicit queue, no image allow-list.
func (r *Runner) GetConfiguration() (pluginrt.ClusterInfo, error) {
	return pluginrt.ClusterInfo{
		Host:               r.cfg.Hostname,
		SupportsContainers: false,
		AllowUnknownImages: true,
		Queues:             []string{"local"},
	}, nil
}

// mintID generates a random 16-byte id, base64-encodes it, and replaces
// "/" with "-" so the id is filesystem-path and URL safe.
func mintID() (string, error) {
	buf := make([]byte, 16)
	if _, err := randRead(buf); err != nil {
		return "", fmt.Errorf("generating job id: %w", err)
	}
	id := base64.StdEncoding.EncodeToString(buf)
	return replaceSlash(id), nil
}

func replaceSlash(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '/' {
			out[i] = '-'
		}
	}
	return string(out)
}

func (r *Runner) track(jobID string, proc *os.Process) {
	r.mu.Lock()
	r.processes[jobID] = proc
	r.mu.Unlock()
}

func (r *Runner) untrack(jobID string) {
	r.mu.Lock()
	delete(r.processes, jobID)
	r.mu.Unlock()
}

func (r *Runner) processFor(jobID string) (*os.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[jobID]
	return p, ok
}

// SubmitJob implements spec.md §4.9's RunJob sequence.
func (r *Runner) SubmitJob(j *job.Job) error {
	id, err := mintID()
	if err != nil {
		return err
	}
	j.ID = id
	j.SubmissionTime = time.Now().UTC()
	j.Host = r.cfg.Hostname

	if err := r.store.SetJobOutputPaths(j); err != nil {
		return wireerrors.WrapJobError(j.ID, "set-output-paths", err)
	}

	cmd, err := r.buildSandboxCommand(j)
	if err != nil {
		return wireerrors.WrapJobError(j.ID, "build-command", err)
	}

	if err := cmd.Start(); err != nil {
		return wireerrors.WrapJobError(j.ID, "launch",
			fmt.Errorf("%w: %v", wireerrors.ErrProcessLaunch, err))
	}

	pid := int32(cmd.Process.Pid)
	j.Pid = &pid
	r.track(j.ID, cmd.Process)

	r.n.Publish(j, job.StatusPending, "", nil, time.Time{})

	go r.reapExit(j, cmd)
	r.armRunningProbe(j, cmd.Process.Pid, 1)

	return nil
}

// ControlJob applies operation to an already-running job by signaling its
// tracked process. Kill/stop/cancel mark the job Killed/Canceled before
// signaling, so the exit reaper's already-terminal check takes the
// no-further-notification branch described in spec.md §4.9 step 8.
func (r *Runner) ControlJob(j *job.Job, operation protocol.ControlOperation) (string, error) {
	proc, ok := r.processFor(j.ID)
	if !ok {
		return "", wireerrors.ErrJobNotRunning
	}

	switch operation {
	case protocol.OpKill, protocol.OpStop, protocol.OpCancel:
		status := job.StatusKilled
		if operation == protocol.OpCancel {
			status = job.StatusCanceled
		}
		r.n.Publish(j, status, fmt.Sprintf("job %sed by control request", operation), nil, time.Time{})
		if err := signalProcess(proc, operation); err != nil {
			return "", wireerrors.WrapJobError(j.ID, string(operation), err)
		}
		return "job terminated", nil
	case protocol.OpSuspend:
		if err := suspendProcess(proc); err != nil {
			return "", wireerrors.WrapJobError(j.ID, "suspend", err)
		}
		r.n.Publish(j, job.StatusSuspended, "job suspended by control request", nil, time.Time{})
		return "job suspended", nil
	case protocol.OpResume:
		if err := resumeProcess(proc); err != nil {
			return "", wireerrors.WrapJobError(j.ID, "resume", err)
		}
		r.n.Publish(j, job.StatusRunning, "job resumed by control request", nil, time.Time{})
		return "job resumed", nil
	default:
		return "", fmt.Errorf("unsupported control operation %q", operation)
	}
}

// reapExit waits for cmd to exit and applies spec.md §4.9 step 8's
// ordering guarantee: a job never observes a direct Pending->Finished
// transition.
func (r *Runner) reapExit(j *job.Job, cmd *exec.Cmd) {
	waitErr := cmd.Wait()
	r.untrack(j.ID)

	var exitCode int32
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = int32(exitErr.ExitCode())
		} else {
			exitCode = -1
		}
	}

	j.Lock()
	status := j.Status
	j.Unlock()

	if status == job.StatusKilled || status == job.StatusCanceled {
		j.Lock()
		j.ApplyUpdate(job.StatusUnknown, "", &exitCode, time.Now().UTC())
		j.Unlock()
		if err := r.store.Persist(j); err != nil {
			r.log.Error("failed to persist killed job", "jobId", j.ID, "error", err)
		}
		return
	}
	if status.IsTerminal() {
		return
	}

	if status == job.StatusPending {
		r.n.Publish(j, job.StatusRunning, "", nil, time.Time{})
	}

	final := job.StatusFinished
	if exitCode != 0 {
		final = job.StatusFailed
	}
	r.n.Publish(j, final, "", &exitCode, time.Now().UTC())
}
