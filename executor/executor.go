// Package executor runs shell commands attached to a pseudo-terminal and
// streams their output while forwarding the user's keystrokes, so programs
// that insist on a terminal (pagers, sudo, REPLs) behave as if run by hand.
package executor

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/khoste/vigil/errors"
	"github.com/khoste/vigil/logging"
	"golang.org/x/term"
)

// ErrBusy is returned when a command is started while another one is
// still running on the same executor.
var ErrBusy = goerrors.New("a command is already running")

// ChunkKind distinguishes command output from executor notices.
type ChunkKind int

const (
	KindOutput ChunkKind = iota
	KindNotice
)

// Chunk is one unit of streamed command output.
type Chunk struct {
	Kind ChunkKind
	Data []byte
}

// DefaultMaxOutput is the accumulated-output ceiling applied when the
// config does not set one.
const DefaultMaxOutput = 1 << 20 // 1 MiB

const pollInterval = 100 * time.Millisecond

// Executor runs one command at a time under a pseudo-terminal. The zero
// value is not usable; construct with New.
type Executor struct {
	maxOutput int
	stdin     *os.File

	mu     sync.Mutex
	active bool
}

// New returns an executor bounded to maxOutput accumulated bytes per
// command. Zero or negative means DefaultMaxOutput.
func New(maxOutput int) *Executor {
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}
	return &Executor{maxOutput: maxOutput, stdin: os.Stdin}
}

// proc is the one in-flight pseudo-terminal child: process handle, output
// budget remaining, and the master side of the pty pair.
type proc struct {
	cmd    *exec.Cmd
	master *os.File
	budget int
}

// Run starts command under a fresh pseudo-terminal and returns a channel
// of output chunks. The channel is closed when the command finishes, is
// cancelled via ctx, or exceeds the output ceiling. The sequence is finite
// and not restartable.
//
// On every exit path the terminal mode is restored, both pty descriptors
// are closed, and the child is reaped.
func (e *Executor) Run(ctx context.Context, command, dir string) (<-chan Chunk, error) {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.active = true
	e.mu.Unlock()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = dir

	// pty.Start makes the child a session leader with the slave end as
	// its controlling terminal, which is what lets sudo and friends
	// prompt through the stream instead of failing silently.
	master, err := pty.Start(cmd)
	if err != nil {
		e.release()
		return nil, errors.Wrapf(err, "failed to start command under pty")
	}

	out := make(chan Chunk)
	p := &proc{cmd: cmd, master: master, budget: e.maxOutput}
	go e.pump(ctx, p, out, command)
	return out, nil
}

func (e *Executor) release() {
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
}

func (e *Executor) pump(ctx context.Context, p *proc, out chan<- Chunk, command string) {
	defer close(out)
	defer e.release()
	defer p.master.Close()
	// Reap the child last so the pty reads drain first.
	defer p.cmd.Wait()

	// Raw mode only applies when we actually own a terminal; tests and
	// piped invocations run headless.
	stdinFd := int(e.stdin.Fd())
	if term.IsTerminal(stdinFd) {
		if oldState, err := term.MakeRaw(stdinFd); err == nil {
			defer term.Restore(stdinFd, oldState)
		} else {
			logging.L().Warn("could not enter raw mode", "error", err)
		}
	}

	if isPrivileged(command) {
		send(ctx, out, Chunk{Kind: KindNotice, Data: []byte("[privilege elevation detected: prompts appear below]\r\n")})
	}

	stopInput := e.forwardInput(p.master)
	defer stopInput()

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			killGroup(p.cmd)
			send(context.Background(), out, Chunk{Kind: KindNotice, Data: []byte("\r\n[command cancelled]\r\n")})
			return
		}

		// Bounded reads keep the loop responsive to cancellation.
		p.master.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := p.master.Read(buf)
		if n > 0 {
			if n > p.budget {
				n = p.budget
			}
			p.budget -= n
			data := make([]byte, n)
			copy(data, buf[:n])
			if !send(ctx, out, Chunk{Kind: KindOutput, Data: data}) {
				killGroup(p.cmd)
				return
			}
			if p.budget <= 0 {
				killGroup(p.cmd)
				notice := fmt.Sprintf("\r\n[output truncated after %d bytes, command terminated]\r\n", e.maxOutput)
				send(ctx, out, Chunk{Kind: KindNotice, Data: []byte(notice)})
				return
			}
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			// EOF or EIO: the slave side closed because the child exited.
			return
		}
	}
}

// forwardInput pumps the user's input stream to the pty master until the
// returned stop function is called. Reads are bounded so the goroutine
// exits promptly instead of staying parked on a read across commands.
func (e *Executor) forwardInput(master *os.File) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		buf := make([]byte, 1024)
		for {
			select {
			case <-done:
				return
			default:
			}
			e.stdin.SetReadDeadline(time.Now().Add(pollInterval))
			n, err := e.stdin.Read(buf)
			if n > 0 {
				if _, werr := master.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil && !os.IsTimeout(err) {
				return
			}
		}
	}()
	return func() {
		close(done)
		// A forwarder parked in Read needs a deadline to wake up and
		// observe done; cleared too early it would sit until the next
		// keystroke and swallow it. Clear only once the goroutine is
		// gone.
		e.stdin.SetReadDeadline(time.Now())
		select {
		case <-exited:
		case <-time.After(time.Second):
		}
		e.stdin.SetReadDeadline(time.Time{})
	}
}

// killGroup terminates the whole process group, not just the immediate
// child; shells fork, and an orphaned grandchild keeps the pty open.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		cmd.Process.Kill()
	}
}

func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func isPrivileged(command string) bool {
	fields := strings.Fields(command)
	return len(fields) > 0 && (fields[0] == "sudo" || fields[0] == "doas")
}
