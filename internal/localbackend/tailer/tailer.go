// Package tailer implements the local backend's output file tailer (C12):
// a stream.OutputStreamFactory that serves job output by spawning `tail`
// child processes against the files the local runner (C10) and store
// (C11) wrote, rather than reading from any in-process buffer. Grounded
// on the teacher's child-process-pipe-pump shape
// (internal/joblet/core/job_executor.go's stdout/stderr pipe handling),
// adapted from "pump the pipes of the job's own process" to "pump the
// pipes of a tail process following the job's output files", since this
// backend's job process is spawned by the sandbox helper rather than
// in-process.
package tailer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/stream"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// Factory is the local backend's stream.OutputStreamFactory.
type Factory struct {
	hostname string
}

// NewFactory constructs a Factory. hostname is unused today but kept so a
// future multi-host local-backend deployment can filter or tag streams
// by origin without changing the factory's signature.
func NewFactory(hostname string) *Factory {
	return &Factory{hostname: hostname}
}

// NewOutputStream implements stream.OutputStreamFactory.
func (f *Factory) NewOutputStream(j *job.Job, outputType protocol.OutputType) (stream.OutputStream, error) {
	j.Lock()
	stdoutPath := resolveHostPath(j, j.StandardOutFile)
	stderrPath := resolveHostPath(j, j.StandardErrFile)
	terminal := j.Status.IsTerminal()
	j.Unlock()

	targets, err := planTargets(outputType, stdoutPath, stderrPath)
	if err != nil {
		return nil, err
	}

	return &fileOutputStream{targets: targets, follow: !terminal}, nil
}

type target struct {
	path string
	tag  protocol.OutputType
}

// planTargets decides which files to tail and how to tag their chunks.
// A single tail process services both stdout and stderr, tagged "both",
// when the job's two output files alias to the same path.
func planTargets(outputType protocol.OutputType, stdoutPath, stderrPath string) ([]target, error) {
	switch outputType {
	case protocol.OutputStdout:
		if stdoutPath == "" {
			return nil, wireerrors.ErrJobOutputNotFound
		}
		return []target{{stdoutPath, protocol.OutputStdout}}, nil
	case protocol.OutputStderr:
		if stderrPath == "" {
			return nil, wireerrors.ErrJobOutputNotFound
		}
		return []target{{stderrPath, protocol.OutputStderr}}, nil
	case protocol.OutputBoth:
		if stdoutPath == "" && stderrPath == "" {
			return nil, wireerrors.ErrJobOutputNotFound
		}
		if stdoutPath != "" && stdoutPath == stderrPath {
			return []target{{stdoutPath, protocol.OutputBoth}}, nil
		}
		var targets []target
		if stdoutPath != "" {
			targets = append(targets, target{stdoutPath, protocol.OutputStdout})
		}
		if stderrPath != "" {
			targets = append(targets, target{stderrPath, protocol.OutputStderr})
		}
		return targets, nil
	default:
		return nil, fmt.Errorf("unsupported output type %q", outputType)
	}
}

// resolveHostPath rewrites a path the job sees through one of its mounts
// to the corresponding host-side path, per spec.md §4.6. Paths the local
// store assigned directly (the common case: SetJobOutputPaths already
// wrote a host path under the scratch tree) pass through unchanged since
// they don't fall under any mount destination.
func resolveHostPath(j *job.Job, path string) string {
	if path == "" {
		return ""
	}
	for _, m := range j.Mounts {
		if !m.IsHostPath() {
			continue
		}
		if rel, ok := underMount(path, m.Destination); ok {
			return filepath.Join(m.Source.HostPath.Path, rel)
		}
	}
	return path
}

func underMount(path, dest string) (string, bool) {
	dest = strings.TrimSuffix(dest, "/")
	if dest == "" {
		return "", false
	}
	if path == dest {
		return "", true
	}
	prefix := dest + "/"
	if strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, prefix), true
	}
	return "", false
}
