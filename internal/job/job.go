// Package job defines the canonical Job entity (C4): a record with a
// per-job (non-reentrant) lock, JSON (de)serialization, status-transition rules,
// and the validation invariants from spec.md §3.
package job

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// AllUsersSentinel is the distinguished user value meaning "unrestricted/
// admin scope" for queries (spec.md GLOSSARY).
const AllUsersSentinel = "*"

// EnvVar is one ordered name/value pair. Ordering and duplicates are
// preserved verbatim, per spec.md §3.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConfigValue is one entry of Job.JobConfig: a name with a typed value.
type ConfigValue struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// ContainerSpec is the optional container image/runtime spec carried by a
// job. The local backend does not interpret it beyond presence/absence.
type ContainerSpec struct {
	Image            string   `json:"image"`
	SupportsImages   []string `json:"supportedImages,omitempty"`
	RunAsUserID      *int64   `json:"runAsUserId,omitempty"`
	RunAsGroupID     *int64   `json:"runAsGroupId,omitempty"`
}

// Job is the unit of work tracked by the plugin. All mutable-field reads,
// all mutations, and all JSON serialization must hold Lock.
type Job struct {
	mu sync.Mutex

	ID   string `json:"id"`
	User string `json:"user"`

	Command string `json:"command,omitempty"`
	Exe     string `json:"exe,omitempty"`

	Arguments        []string      `json:"arguments,omitempty"`
	Environment      []EnvVar      `json:"environment,omitempty"`
	WorkingDirectory string        `json:"workingDirectory,omitempty"`
	StandardIn       string        `json:"standardIn,omitempty"`
	StandardOutFile  string        `json:"standardOutFile,omitempty"`
	StandardErrFile  string        `json:"standardErrFile,omitempty"`

	Container *ContainerSpec `json:"container,omitempty"`
	Mounts    []Mount        `json:"mounts,omitempty"`

	ResourceLimits       map[string]interface{} `json:"resourceLimits,omitempty"`
	PlacementConstraints map[string]interface{} `json:"placementConstraints,omitempty"`
	JobConfig            []ConfigValue           `json:"config,omitempty"`
	Tags                 []string                `json:"tags,omitempty"`

	SubmissionTime time.Time `json:"submissionTime"`
	LastUpdateTime time.Time `json:"lastUpdateTime,omitzero"`

	Pid      *int32  `json:"pid,omitempty"`
	ExitCode *int32  `json:"exitCode,omitempty"`
	Host     string  `json:"host,omitempty"`

	Status        Status `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// Lock / Unlock expose the per-job reentrant-in-spirit mutex. Go mutexes
// are not reentrant; callers within this package never call Lock twice on
// the same goroutine — helper methods below assume the caller already
// holds the lock where documented.
func (j *Job) Lock()   { j.mu.Lock() }
func (j *Job) Unlock() { j.mu.Unlock() }

// Validate checks the submission-time invariants from spec.md §3:
// exactly one of Command/Exe must be non-empty (unless a container image
// is present, in which case the entrypoint may come from the image).
func (j *Job) Validate() error {
	hasCommand := j.Command != ""
	hasExe := j.Exe != ""
	hasImage := j.Container != nil && j.Container.Image != ""

	if hasCommand && hasExe {
		return errors.New("exactly one of command or exe must be set, both were provided")
	}
	if !hasCommand && !hasExe && !hasImage {
		return errors.New("one of command, exe, or a container image must be set")
	}
	return nil
}

// IsAllUsers reports whether user is the admin "all users" sentinel.
func IsAllUsers(user string) bool { return user == AllUsersSentinel }

// MatchesUser reports whether this job is visible to requestingUser,
// honoring the all-users sentinel. Caller must hold the lock (or the job
// must not yet be shared) to read User safely; User is immutable after
// submission so an unlocked read is also safe once the job has been
// published.
func (j *Job) MatchesUser(requestingUser string) bool {
	if IsAllUsers(requestingUser) {
		return true
	}
	return j.User == requestingUser
}

// ApplyUpdate mutates status/message/exit-code/last-update under the
// caller-held lock, enforcing monotone-toward-terminal transitions. It
// returns whether the status actually changed (new value differs from
// current). notifier.Publish does not consult this value: it fans out
// every update, including message/exit-code-only refreshes.
//
// Caller must hold the lock.
func (j *Job) ApplyUpdate(newStatus Status, message string, exitCode *int32, when time.Time) (changed bool) {
	if j.Status.IsTerminal() && newStatus != j.Status && newStatus != StatusUnknown {
		// Terminal statuses never change once reached (spec.md §3);
		// a caller asking to transition away from terminal is a bug
		// in the backend, not a user-visible error here. Only the
		// message/exit-code/last-update may still move.
		newStatus = j.Status
	}

	changed = newStatus != StatusUnknown && newStatus != j.Status
	if changed {
		j.Status = newStatus
	}
	if message != "" {
		j.StatusMessage = message
	}
	if exitCode != nil {
		j.ExitCode = exitCode
	}
	if when.IsZero() {
		when = time.Now().UTC()
	}
	j.LastUpdateTime = when
	return changed
}

// Snapshot returns a deep copy of the job safe to hand to a reader that
// does not hold the lock (e.g. a stream response builder). Caller must
// hold the lock when calling Snapshot.
func (j *Job) Snapshot() *Job {
	cp := *j
	cp.mu = sync.Mutex{}

	cp.Arguments = append([]string(nil), j.Arguments...)
	cp.Environment = append([]EnvVar(nil), j.Environment...)
	cp.Mounts = append([]Mount(nil), j.Mounts...)
	cp.JobConfig = append([]ConfigValue(nil), j.JobConfig...)
	cp.Tags = append([]string(nil), j.Tags...)

	if j.Pid != nil {
		pid := *j.Pid
		cp.Pid = &pid
	}
	if j.ExitCode != nil {
		ec := *j.ExitCode
		cp.ExitCode = &ec
	}
	return &cp
}

// MarshalJSON serializes a locked snapshot. Callers that already hold the
// lock should take Snapshot() and marshal that copy instead, to avoid
// re-locking (Go's json.Marshal would call
// this method on the original value otherwise). For convenience, this
// method locks internally so ad-hoc json.Marshal(job) calls are always
// safe from a caller not already holding the lock.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	snap := *j
	j.mu.Unlock()
	snap.mu = sync.Mutex{}
	type alias Job
	return json.Marshal((*alias)(&snap))
}
