package server

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/logging"
)

// maxLineSize bounds one inbound message. A write request carrying a large
// paste is the biggest message a UI sends.
const maxLineSize = 16 << 20

// Stdio carries messages as newline-delimited JSON.
type Stdio struct {
	host   Host
	in     io.Reader
	out    io.Writer
	logger *logging.Logger

	mu sync.Mutex
}

// NewStdio creates a carrier reading requests from in and writing events to
// out.
func NewStdio(h Host, in io.Reader, out io.Writer, logger *logging.Logger) *Stdio {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Stdio{host: h, in: in, out: out, logger: logger.WithComponent("stdio")}
}

// Serve forwards events to out and requests from in until in reaches EOF,
// the host stops or ctx is cancelled. EOF is a normal end and returns nil.
func (s *Stdio) Serve(ctx context.Context) error {
	unsubscribe := subscribe(s.host.Bus(), s.logger, s.write)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- s.readLoop() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Stdio) readLoop() error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !s.host.Submit(line) {
			return errors.ErrClosed
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading requests")
	}
	s.logger.Info("request stream closed")
	return nil
}

// write emits one message followed by a newline. Concurrent events never
// interleave.
func (s *Stdio) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 0, len(msg)+1)
	buf = append(append(buf, msg...), '\n')
	_, err := s.out.Write(buf)
	return err
}
