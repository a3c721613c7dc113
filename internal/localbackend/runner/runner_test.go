//go:build linux

package runner

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsturma/launcher-plugin/internal/job"
	"github.com/jsturma/launcher-plugin/internal/localbackend/store"
	"github.com/jsturma/launcher-plugin/internal/notifier"
	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/pkg/asyncrt"
)

// writeFakeSandbox creates a shell script that drops every argument
// except the trailing "/bin/sh -c <command>" triple, so tests can exercise
// real process spawn/exit/probe behavior without a real rsandbox binary.
func writeFakeSandbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-sandbox")
	script := "#!/bin/sh\nshift $(($#-3))\nexec \"$@\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newRunner(t *testing.T, sandboxPath string) (*Runner, *notifier.Notifier) {
	n := notifier.New()
	st := store.New(t.TempDir(), "host-1", true)
	require.NoError(t, st.OnInitialize())
	pool := asyncrt.New(2)
	t.Cleanup(pool.Shutdown)
	return New(Config{SandboxPath: sandboxPath, Hostname: "host-1"}, st, n, pool), n
}

func TestMintID_IsURLSafeAndUnique(t *testing.T) {
	a, err := mintID()
	require.NoError(t, err)
	b, err := mintID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "/")
}

func TestShellQuote_EscapesEmbeddedSingleQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

func TestShellCommandFor_SeparateStdoutStderr(t *testing.T) {
	j := &job.Job{Exe: "/bin/echo", Arguments: []string{"hi"}, StandardOutFile: "/tmp/out", StandardErrFile: "/tmp/err"}
	cmd, err := shellCommandFor(j)
	require.NoError(t, err)
	assert.Equal(t, "'/bin/echo' 'hi' > '/tmp/out' 2> '/tmp/err'", cmd)
}

func TestShellCommandFor_AliasedStdoutStderrUsesCombinedRedirect(t *testing.T) {
	j := &job.Job{Exe: "/bin/echo", StandardOutFile: "/tmp/out", StandardErrFile: "/tmp/out"}
	cmd, err := shellCommandFor(j)
	require.NoError(t, err)
	assert.Equal(t, "'/bin/echo' > '/tmp/out' 2>&1", cmd)
}

func TestSandboxArgs_IncludesUsernameWorkdirAndMounts(t *testing.T) {
	j := &job.Job{
		User:             "alice",
		WorkingDirectory: "/home/alice",
		Mounts: []job.Mount{
			{Destination: "/data", ReadOnly: true, Source: job.MountSource{Type: job.MountSourceHostPath, HostPath: &job.HostPathSource{Path: "/srv/data"}}},
		},
	}
	args := sandboxArgs(j, false)
	assert.Equal(t, []string{"--username", "alice", "--workingdir", "/home/alice", "--mount", "/srv/data:/data:ro"}, args)
}

func TestBuildEnv_InheritsPlatformPATHWhenJobOmitsIt(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	j := &job.Job{Environment: []job.EnvVar{{Name: "FOO", Value: "bar"}}}
	env := buildEnv(j)
	assert.Contains(t, env, "FOO=bar")
	assert.Contains(t, env, "PATH=/usr/bin:/bin")
}

func TestBuildEnv_RespectsJobSuppliedPATH(t *testing.T) {
	j := &job.Job{Environment: []job.EnvVar{{Name: "PATH", Value: "/custom/bin"}}}
	env := buildEnv(j)
	assert.Equal(t, []string{"PATH=/custom/bin"}, env)
}

func TestProbeDelay_ExponentialBackoffCappedAt5s(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, probeDelay(1))
	assert.Equal(t, 200*time.Millisecond, probeDelay(2))
	assert.Equal(t, 1600*time.Millisecond, probeDelay(5))
	assert.Equal(t, 5*time.Second, probeDelay(20))
}

func TestDecryptPassword_RoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	iv := []byte("0123456789abcdef")
	plaintext := []byte("hunter2hunter2!!")

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	got, err := decryptPassword(base64.StdEncoding.EncodeToString(ciphertext), base64.StdEncoding.EncodeToString(iv), key)
	require.NoError(t, err)
	assert.Equal(t, string(plaintext), got)
}

func TestDecryptPassword_RejectsShortIV(t *testing.T) {
	_, err := decryptPassword(base64.StdEncoding.EncodeToString([]byte("x")), base64.StdEncoding.EncodeToString([]byte("short")), []byte("0123456789abcdef"))
	assert.Error(t, err)
}

func TestLaunchProfile_AbsentWhenNoEncryptedPassword(t *testing.T) {
	j := &job.Job{}
	profile, sensitive, err := launchProfile(j, nil)
	require.NoError(t, err)
	assert.Nil(t, profile)
	assert.Nil(t, sensitive)
}

func TestBuildSandboxCommand_WiresStandardInWhenNoLaunchProfile(t *testing.T) {
	r, _ := newRunner(t, writeFakeSandbox(t))
	j := &job.Job{Exe: "/bin/cat", StandardIn: "hello from the launcher"}

	cmd, err := r.buildSandboxCommand(j)
	require.NoError(t, err)
	require.NotNil(t, cmd.Stdin)

	got, err := io.ReadAll(cmd.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "hello from the launcher", string(got))
}

func TestBuildSandboxCommand_LaunchProfileTakesStdinOverStandardIn(t *testing.T) {
	r, _ := newRunner(t, writeFakeSandbox(t))
	key := []byte("0123456789abcdef0123456789abcdef")
	iv := []byte("0123456789abcdef")
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, make([]byte, aes.BlockSize))
	r.cfg.SecureCookieKey = key

	j := &job.Job{
		Exe:        "/bin/cat",
		StandardIn: "should be shadowed",
		JobConfig: []job.ConfigValue{
			{Name: "encryptedPassword", Value: base64.StdEncoding.EncodeToString(ciphertext)},
			{Name: "initializationVector", Value: base64.StdEncoding.EncodeToString(iv)},
		},
	}

	cmd, err := r.buildSandboxCommand(j)
	require.NoError(t, err)
	require.NotNil(t, cmd.Stdin)

	got, err := io.ReadAll(cmd.Stdin)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "should be shadowed")
}

func TestRunner_SubmitJobPublishesPendingThenFinishedForSuccessfulExit(t *testing.T) {
	sandbox := writeFakeSandbox(t)
	r, n := newRunner(t, sandbox)

	var statuses []job.Status
	done := make(chan struct{})
	j := &job.Job{User: "alice", Exe: "/bin/true"}

	sub := n.SubscribeAll(func(updated *job.Job) {
		updated.Lock()
		s := updated.Status
		updated.Unlock()
		statuses = append(statuses, s)
		if s.IsTerminal() {
			close(done)
		}
	})
	defer sub.Close()

	require.NoError(t, r.SubmitJob(j))
	assert.NotEmpty(t, j.ID)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, job.StatusPending, statuses[0])
	assert.Equal(t, job.StatusFinished, statuses[len(statuses)-1])
	for i, s := range statuses {
		if s == job.StatusFinished {
			require.Greater(t, i, 0)
			assert.Equal(t, job.StatusRunning, statuses[i-1])
		}
	}
}

func TestRunner_ControlJobUnknownJobReturnsNotRunning(t *testing.T) {
	r, _ := newRunner(t, writeFakeSandbox(t))
	j := &job.Job{ID: "ghost"}
	_, err := r.ControlJob(j, protocol.OpKill)
	assert.Error(t, err)
}

func TestRunner_ControlJobKillMarksKilledBeforeReap(t *testing.T) {
	sandbox := writeFakeSandbox(t)
	r, n := newRunner(t, sandbox)

	j := &job.Job{User: "alice", Exe: "/bin/sleep", Arguments: []string{"30"}}
	require.NoError(t, r.SubmitJob(j))

	var sawKilled bool
	sub := n.SubscribeJob(j.ID, func(updated *job.Job) {
		updated.Lock()
		if updated.Status == job.StatusKilled {
			sawKilled = true
		}
		updated.Unlock()
	})
	defer sub.Close()

	msg, err := r.ControlJob(j, protocol.OpKill)
	require.NoError(t, err)
	assert.Equal(t, "job terminated", msg)
	assert.True(t, sawKilled)
}
