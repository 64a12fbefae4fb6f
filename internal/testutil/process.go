package testutil

import (
	"bytes"
	"errors"
	"sync"
)

// ErrFakeKilled is returned by FakeProcess.Run when Kill ends the process.
var ErrFakeKilled = errors.New("fake process killed")

// FakeProcess is a scriptable terminal process. Tests feed output with Emit
// and end it with Exit; the host observes both through Run.
type FakeProcess struct {
	mu       sync.Mutex
	pid      int
	written  bytes.Buffer
	resizes  [][2]int
	pauses   int
	resumes  int
	paused   bool
	signals  []string
	children bool
	childErr error
	writeErr error

	output chan []byte
	ack    chan struct{}
	exit   chan int
	once   sync.Once
}

// NewFakeProcess returns a running fake with the given pid.
func NewFakeProcess(pid int) *FakeProcess {
	return &FakeProcess{
		pid:    pid,
		output: make(chan []byte),
		ack:    make(chan struct{}),
		exit:   make(chan int, 1),
	}
}

// Pid returns the fake pid.
func (p *FakeProcess) Pid() int { return p.pid }

// Write records input sent to the process.
func (p *FakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(b)
}

// Resize records the requested size.
func (p *FakeProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resizes = append(p.resizes, [2]int{cols, rows})
	return nil
}

// Pause marks the fake paused.
func (p *FakeProcess) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	p.paused = true
	return nil
}

// Resume marks the fake running.
func (p *FakeProcess) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumes++
	p.paused = false
	return nil
}

// Kill records the signal and ends Run.
func (p *FakeProcess) Kill(signal string) error {
	p.mu.Lock()
	p.signals = append(p.signals, signal)
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}

// HasActiveChildren returns the scripted child-process answer.
func (p *FakeProcess) HasActiveChildren() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.children, p.childErr
}

// Run delivers emitted output to onData until the process exits.
func (p *FakeProcess) Run(onData func([]byte)) (int, error) {
	for {
		select {
		case data := <-p.output:
			onData(data)
			p.ack <- struct{}{}
		case code := <-p.exit:
			return code, nil
		}
	}
}

// Emit hands data to the Run goroutine and waits until onData returned.
func (p *FakeProcess) Emit(data []byte) {
	p.output <- data
	<-p.ack
}

// Exit ends Run with the given code. Only the first call has effect.
func (p *FakeProcess) Exit(code int) {
	p.once.Do(func() { p.exit <- code })
}

// SetChildren scripts HasActiveChildren.
func (p *FakeProcess) SetChildren(active bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children, p.childErr = active, err
}

// SetWriteError makes subsequent writes fail.
func (p *FakeProcess) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Written returns everything written to the process so far.
func (p *FakeProcess) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Resizes returns every size requested so far.
func (p *FakeProcess) Resizes() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.resizes...)
}

// Paused reports whether the fake is currently paused.
func (p *FakeProcess) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// PauseCount returns how many times Pause was called.
func (p *FakeProcess) PauseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauses
}

// ResumeCount returns how many times Resume was called.
func (p *FakeProcess) ResumeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumes
}

// Signals returns the signals passed to Kill.
func (p *FakeProcess) Signals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.signals...)
}
