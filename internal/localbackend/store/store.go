//go:build linux

// Package store implements the local job store (C11): one JSON file per
// job under <scratch>/jobs/<hostname>, written atomically, loaded back at
// startup with per-file parse-failure tolerance, and an output directory
// tree the local runner's sandbox processes write into. It implements
// repository.Hooks. Grounded on the teacher's pkg/registry downloader's
// write-temp-then-rename persistence and runtime_installer.go's same
// pattern for atomically replacing an installed artifact.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Store is the local backend's on-disk job/output persistence layer.
type Store struct {
	scratchRoot string
	hostname    string
	saveOutput  bool
	log         *logger.Logger
}

// New creates a Store rooted at scratchRoot. saveOutput controls whether
// SetJobOutputPaths assigns default output file paths for jobs that don't
// specify their own (spec.md §4.9 step 3).
func New(scratchRoot, hostname string, saveOutput bool) *Store {
	return &Store{
		scratchRoot: scratchRoot,
		hostname:    hostname,
		saveOutput:  saveOutput,
		log:         logger.WithField("component", "local-store"),
	}
}

func (s *Store) jobsDir() string   { return filepath.Join(s.scratchRoot, "jobs", s.hostname) }
func (s *Store) outputDir() string { return filepath.Join(s.scratchRoot, "output", s.hostname) }

func (s *Store) jobFile(id string) string   { return filepath.Join(s.jobsDir(), id) }
func (s *Store) jobOutputDir(id string) string { return filepath.Join(s.outputDir(), id) }

// OnInitialize creates the jobs and output root directories.
func (s *Store) OnInitialize() error {
	if err := os.MkdirAll(s.jobsDir(), 0750); err != nil {
		return fmt.Errorf("creating jobs directory: %w", err)
	}
	if s.saveOutput {
		if err := os.MkdirAll(s.outputDir(), 0750); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	return nil
}

// LoadJobs enumerates the jobs directory, parsing and validating each
// entry. A file that fails to parse or validate is logged and skipped,
// per spec.md §4.10.
func (s *Store) LoadJobs() ([]*job.Job, error) {
	entries, err := os.ReadDir(s.jobsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs directory: %w", err)
	}

	var jobs []*job.Job
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.jobsDir(), entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("failed to read job file, skipping", "path", path, "error", err)
			continue
		}
		var j job.Job
		if err := json.Unmarshal(data, &j); err != nil {
			s.log.Warn("failed to parse job file, skipping", "path", path, "error", err)
			continue
		}
		if err := j.Validate(); err != nil {
			s.log.Warn("job file failed validation, skipping", "path", path, "error", err)
			continue
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// OnJobAdded persists j atomically: write to a temp file in the same
// directory, then rename over the final path.
func (s *Store) OnJobAdded(j *job.Job) {
	if err := s.persist(j); err != nil {
		s.log.Error("failed to persist job", "jobId", j.ID, "error", err)
	}
}

func (s *Store) persist(j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	final := s.jobFile(j.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("writing temp job file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming job file: %w", err)
	}
	return nil
}

// Persist re-writes j's file, used by the runner after a status change the
// notifier path won't otherwise capture (e.g. a Killed job's final
// exit-code update with no further notification, spec.md §4.9 step 8).
func (s *Store) Persist(j *job.Job) error { return s.persist(j) }

// OnJobRemoved deletes the job file and, if the plugin owns the output
// tree (saveOutput was set when the job ran), the output directory too.
func (s *Store) OnJobRemoved(j *job.Job) {
	if err := os.Remove(s.jobFile(j.ID)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove job file", "jobId", j.ID, "error", err)
	}
	if s.saveOutput {
		if err := os.RemoveAll(s.jobOutputDir(j.ID)); err != nil {
			s.log.Warn("failed to remove job output directory", "jobId", j.ID, "error", err)
		}
	}
}

// SetJobOutputPaths implements spec.md §4.9 step 3: if the job specifies
// neither stdout nor stderr file and the store is configured to save
// unspecified output, it assigns both under the job's output directory
// and ensures that directory exists, owned by the job's user.
func (s *Store) SetJobOutputPaths(j *job.Job) error {
	if !s.saveOutput {
		return nil
	}
	if j.StandardOutFile != "" || j.StandardErrFile != "" {
		return nil
	}

	dir := s.jobOutputDir(j.ID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := chownToUser(dir, j.User); err != nil {
		s.log.Warn("failed to chown output directory to job owner", "jobId", j.ID, "user", j.User, "error", err)
	}

	j.StandardOutFile = filepath.Join(dir, "stdout.log")
	j.StandardErrFile = filepath.Join(dir, "stderr.log")
	return nil
}

// chownToUser resolves username via the OS user database and chowns path
// to its uid/gid. A lookup or chown failure is non-fatal; the directory
// still exists and is readable by the plugin's own user.
func chownToUser(path, username string) error {
	if username == "" {
		return nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	return syscall.Chown(path, uid, gid)
}
