//go:build linux

package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/jsturma/launcher-plugin/internal/job"
)

// buildSandboxCommand assembles the *exec.Cmd that spawns the configured
// sandbox helper per spec.md §4.9 step 4.
func (r *Runner) buildSandboxCommand(j *job.Job) (*exec.Cmd, error) {
	shellCmd, err := shellCommandFor(j)
	if err != nil {
		return nil, err
	}

	args := sandboxArgs(j, r.cfg.Unprivileged)
	args = append(args, "/bin/sh", "-c", shellCmd)

	cmd := exec.Command(r.cfg.SandboxPath, args...)
	cmd.Env = buildEnv(j)

	if stderr := sandboxStderrWriter(j); stderr != nil {
		cmd.Stderr = stderr
	}

	profile, sensitive, err := launchProfile(j, r.cfg.SecureCookieKey)
	if err != nil {
		return nil, err
	}
	switch {
	case profile != nil:
		// The sandbox helper reads the launch profile off stdin, so a
		// password-bearing job has no stdin channel left for StandardIn.
		cmd.Stdin = bytes.NewReader(profile)
		r.log.Debug("launch profile built", "jobId", j.ID, "fields", redactProfileKeys(sensitive))
	case j.StandardIn != "":
		cmd.Stdin = strings.NewReader(j.StandardIn)
	}

	return cmd, nil
}

// shellCommandFor builds the "<shell-escaped command and args> > out 2> err"
// (or "2>&1" when the files alias) string the sandbox helper's
// /bin/sh -c argument carries.
func shellCommandFor(j *job.Job) (string, error) {
	entry := j.Command
	if entry == "" {
		entry = j.Exe
	}
	if entry == "" {
		return "", fmt.Errorf("job has neither command nor exe set")
	}

	parts := make([]string, 0, len(j.Arguments)+1)
	parts = append(parts, shellQuote(entry))
	for _, a := range j.Arguments {
		parts = append(parts, shellQuote(a))
	}
	line := strings.Join(parts, " ")

	if j.StandardOutFile != "" {
		line += " > " + shellQuote(j.StandardOutFile)
	}
	switch {
	case j.StandardErrFile == "":
		// no stderr redirection
	case j.StandardErrFile == j.StandardOutFile:
		line += " 2>&1"
	default:
		line += " 2> " + shellQuote(j.StandardErrFile)
	}
	return line, nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quote
// the POSIX-shell way ('\'').
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// sandboxArgs builds the sandbox helper's own flags (everything before the
// trailing "/bin/sh -c <command>").
func sandboxArgs(j *job.Job, unprivileged bool) []string {
	var args []string
	if j.User != "" {
		args = append(args, "--username", j.User)
	}
	if j.WorkingDirectory != "" {
		args = append(args, "--workingdir", j.WorkingDirectory)
	}
	for _, m := range j.Mounts {
		if !m.IsHostPath() {
			continue
		}
		spec := m.Source.HostPath.Path + ":" + m.Destination
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "--mount", spec)
	}
	if profile := configValue(j, "pamProfile"); profile != "" {
		args = append(args, "--pam-profile", profile)
	}
	if unprivileged {
		args = append(args, "--unprivileged")
	}
	return args
}

// buildEnv copies the job's environment, inheriting the plugin's own PATH
// when the job doesn't set one.
func buildEnv(j *job.Job) []string {
	env := make([]string, 0, len(j.Environment)+1)
	hasPath := false
	for _, e := range j.Environment {
		env = append(env, e.Name+"="+e.Value)
		if e.Name == "PATH" {
			hasPath = true
		}
	}
	if !hasPath {
		if path := os.Getenv("PATH"); path != "" {
			env = append(env, "PATH="+path)
		}
	}
	return env
}

// sandboxStderrWriter appends the sandbox helper's own stderr onto the
// job's configured stderr file, so a sandbox-level failure (as opposed to
// a failure of the user's command, already redirected by the shell line
// shellCommandFor builds) is visible in the same place a user would look.
func sandboxStderrWriter(j *job.Job) *os.File {
	if j.StandardErrFile == "" {
		return nil
	}
	f, err := os.OpenFile(j.StandardErrFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil
	}
	return f
}

// configValue returns the string value of the named JobConfig entry, or
// "" if absent or not a string.
func configValue(j *job.Job, name string) string {
	for _, c := range j.JobConfig {
		if c.Name != name {
			continue
		}
		if s, ok := c.Value.(string); ok {
			return s
		}
	}
	return ""
}

// launchProfile builds the JSON launch profile carrying the job's
// decrypted password, if one is present, per spec.md §4.9 step 4. Returns
// (nil, nil, nil) when the job has no encrypted password to carry.
// sensitiveKeys lists which profile fields a caller must redact before
// logging the profile.
func launchProfile(j *job.Job, secureCookieKey []byte) (profile []byte, sensitiveKeys []string, err error) {
	encrypted := configValue(j, "encryptedPassword")
	iv := configValue(j, "initializationVector")
	if encrypted == "" || iv == "" {
		return nil, nil, nil
	}

	password, err := decryptPassword(encrypted, iv, secureCookieKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypting password: %w", err)
	}

	data, err := json.Marshal(map[string]string{
		"username": j.User,
		"password": password,
	})
	if err != nil {
		return nil, nil, err
	}
	return data, []string{"password"}, nil
}

func redactProfileKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = "***"
	}
	return out
}
