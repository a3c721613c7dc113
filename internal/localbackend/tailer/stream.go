package tailer

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsturma/launcher-plugin/internal/protocol"
	"github.com/jsturma/launcher-plugin/internal/stream"
	wireerrors "github.com/jsturma/launcher-plugin/pkg/errors"
)

// gracePeriod is how long a fileOutputStream keeps its tails running
// after the job reaches a terminal status, per spec.md §4.6, to let
// trailing writes to the output files drain before the tails are killed.
const gracePeriod = 2 * time.Second

// readChunkSize bounds how much of a tail child's stdout is read per
// OutputEvent; it has no bearing on correctness, only on chunking.
const readChunkSize = 32 * 1024

// fileOutputStream is the local backend's stream.OutputStream: one or two
// `tail` child processes, pumped into a shared channel.
type fileOutputStream struct {
	targets []target
	follow  bool

	mu       sync.Mutex
	cmds     []*exec.Cmd
	stopping int32
	stopOnce sync.Once
}

// Start spawns one tail child per target and returns the channel their
// output is pumped into. It does not block waiting for the children to
// produce anything; only process spawn failures are returned as an error.
func (s *fileOutputStream) Start() (<-chan stream.OutputEvent, error) {
	ch := make(chan stream.OutputEvent)
	var wg sync.WaitGroup
	var cmds []*exec.Cmd

	for _, t := range s.targets {
		cmd := exec.Command("tail", tailArgs(t.path, s.follow)...)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			s.killCmds(cmds)
			return nil, fmt.Errorf("tailing %s: %w", t.path, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			s.killCmds(cmds)
			return nil, fmt.Errorf("tailing %s: %w", t.path, err)
		}
		if err := cmd.Start(); err != nil {
			s.killCmds(cmds)
			return nil, fmt.Errorf("starting tail for %s: %w", t.path, err)
		}
		cmds = append(cmds, cmd)

		wg.Add(1)
		go s.pump(&wg, ch, stdout, stderr, cmd, t.tag)
	}

	s.mu.Lock()
	s.cmds = cmds
	s.mu.Unlock()

	go func() {
		wg.Wait()
		close(ch)
	}()

	return ch, nil
}

// Stop requests early termination. It is safe to call more than once and
// never blocks: the actual kill happens after gracePeriod on its own
// goroutine, so trailing output already in flight from a live tail -f has
// a chance to be read and forwarded first.
func (s *fileOutputStream) Stop() {
	s.stopOnce.Do(func() {
		go func() {
			time.Sleep(gracePeriod)
			atomic.StoreInt32(&s.stopping, 1)
			s.mu.Lock()
			cmds := s.cmds
			s.mu.Unlock()
			s.killCmds(cmds)
		}()
	})
}

func (s *fileOutputStream) killCmds(cmds []*exec.Cmd) {
	for _, cmd := range cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// pump reads tag-ed chunks from a tail child's stdout until it closes,
// then classifies the child's exit: an error or non-empty stderr before
// any bytes were delivered becomes a single job-output-not-found event; a
// child killed by our own Stop (the terminal-status grace period) or one
// that produced at least one chunk closes quietly, matching spec.md §4.6.
func (s *fileOutputStream) pump(wg *sync.WaitGroup, ch chan<- stream.OutputEvent, stdout, stderrPipe io.ReadCloser, cmd *exec.Cmd, tag protocol.OutputType) {
	defer wg.Done()

	var stderrBuf bytes.Buffer
	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(&stderrBuf, stderrPipe)
		close(stderrDone)
	}()

	var delivered int32
	buf := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			atomic.StoreInt32(&delivered, 1)
			ch <- stream.OutputEvent{Data: chunk, OutputType: tag}
		}
		if err != nil {
			break
		}
	}

	<-stderrDone
	waitErr := cmd.Wait()

	if atomic.LoadInt32(&delivered) == 1 {
		return
	}
	if atomic.LoadInt32(&s.stopping) == 1 {
		// Killed by our own grace-period teardown with nothing ever
		// delivered (e.g. an empty output file): not a tail failure.
		return
	}
	if waitErr != nil || stderrBuf.Len() > 0 {
		ch <- stream.OutputEvent{Err: wireerrors.ErrJobOutputNotFound}
	}
}

// tailArgs builds the tail invocation: "-n +1" always dumps from the
// start of the file rather than tail's default last-10-lines behavior,
// and "-f" is added only when the job wasn't already terminal at stream
// start (spec.md §4.6's follow vs. one-shot-dump distinction).
func tailArgs(path string, follow bool) []string {
	if follow {
		return []string{"-n", "+1", "-f", path}
	}
	return []string{"-n", "+1", path}
}
