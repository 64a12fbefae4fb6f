// Package ptyproc runs a program on a pseudo-terminal.
//
// Pause and Resume throttle a process by gating the goroutine that reads its
// output: while paused nothing drains the PTY, the kernel buffer fills, and
// the program blocks in its own write. The process is never stopped with a
// signal, so job control in the shell is not disturbed.
package ptyproc

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/termhost/internal/errors"
)

// Options describes the program to start.
type Options struct {
	Shell string
	Args  []string
	Dir   string
	Env   map[string]string
	Cols  int
	Rows  int
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = os.Getenv("SHELL")
	}
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	if o.Cols <= 0 {
		o.Cols = 80
	}
	if o.Rows <= 0 {
		o.Rows = 24
	}
	return o
}

const (
	// readSize is the PTY read buffer size.
	readSize = 32 * 1024
	// drainTimeout bounds reading after exit when a background job still
	// holds the terminal open.
	drainTimeout = 2 * time.Second
)

// Process is a program attached to a PTY.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	gate   *sync.Cond
	paused bool
	exited bool

	done  chan struct{}
	state *os.ProcessState
}

// Start launches the program on a new PTY.
func Start(opts Options) (*Process, error) {
	opts = opts.withDefaults()

	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(opts.Cols), Rows: uint16(opts.Rows)})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrSpawnFailed, opts.Shell, err)
	}

	p := &Process{cmd: cmd, ptmx: ptmx, done: make(chan struct{})}
	p.gate = sync.NewCond(&p.mu)
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	p.state = p.cmd.ProcessState
	p.exited = true
	p.paused = false
	p.gate.Broadcast()
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Write sends input to the program.
func (p *Process) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errors.ErrProcessExited
	default:
	}
	return p.ptmx.Write(b)
}

// Resize changes the terminal size.
func (p *Process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return errors.NewValidationError("columns and rows must be positive").
			WithField("size").WithValue(fmt.Sprintf("%dx%d", cols, rows))
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Pause stops draining the program's output.
func (p *Process) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		p.paused = true
	}
	return nil
}

// Resume drains the program's output again.
func (p *Process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.gate.Broadcast()
	return nil
}

// Kill sends a signal, SIGHUP by default, to the program's process group.
func (p *Process) Kill(signal string) error {
	sig := unix.SIGHUP
	if signal != "" {
		sig = unix.SignalNum(signal)
		if sig == 0 {
			return errors.NewValidationError("unknown signal").WithField("signal").WithValue(signal)
		}
	}
	// A killed program must be able to flush its last output.
	_ = p.Resume()

	pid := p.Pid()
	err := unix.Kill(-pid, sig)
	if stderrors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	if stderrors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Run reads output until the program exits, calling onData with each chunk
// on the calling goroutine. Chunks are not reused. It returns the exit code,
// which is -1 when the program was killed by a signal.
func (p *Process) Run(onData func([]byte)) (int, error) {
	defer p.ptmx.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-p.done:
			_ = p.ptmx.SetReadDeadline(time.Now().Add(drainTimeout))
		case <-stop:
		}
	}()

	var readErr error
	for {
		p.mu.Lock()
		for p.paused {
			p.gate.Wait()
		}
		p.mu.Unlock()

		buf := make([]byte, readSize)
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err != nil {
			// Linux reports EIO once the slave side is closed.
			if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, syscall.EIO) && !stderrors.Is(err, os.ErrClosed) &&
				!stderrors.Is(err, os.ErrDeadlineExceeded) {
				readErr = err
			}
			break
		}
	}

	<-p.done
	return exitCode(p.state), readErr
}

// Done is closed once the program has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
