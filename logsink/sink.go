// Package logsink receives process output and orchestrator error reports.
// Output is a non-blocking, lossy emission; error reports are always written.
package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"launchpad/types"
)

const defaultBuffer = 1024

type event struct {
	project string
	stream  types.Stream
	text    string
}

// Sink drains output on its own goroutine. Output never blocks: when the
// buffer is full the chunk is dropped and counted. Error reports bypass the
// buffer and are appended synchronously.
type Sink struct {
	logger   *slog.Logger
	errMu    sync.Mutex // serialises error log appends against Close
	errorLog io.Writer
	closer   io.Closer

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex // guards closed against concurrent sends
	closed    bool
	dropped   atomic.Uint64
}

// Option configures a Sink.
type Option func(*Sink)

// WithBuffer sets the event buffer size.
func WithBuffer(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.events = make(chan event, n)
		}
	}
}

// WithErrorWriter sends error reports to w instead of a file.
func WithErrorWriter(w io.Writer) Option {
	return func(s *Sink) { s.errorLog = w }
}

// New creates a Sink writing output through logger and appending error
// reports to errorLogPath. An empty path disables the error file.
func New(logger *slog.Logger, errorLogPath string, opts ...Option) (*Sink, error) {
	s := &Sink{
		logger: logger,
		events: make(chan event, defaultBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.errorLog == nil && errorLogPath != "" {
		if dir := filepath.Dir(errorLogPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("logsink: ensure log dir: %w", err)
			}
		}
		f, err := os.OpenFile(errorLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logsink: open error log: %w", err)
		}
		s.errorLog = f
		s.closer = f
	}

	go s.run()
	return s, nil
}

// Output forwards a chunk of a project's stdout or stderr.
func (s *Sink) Output(project string, stream types.Stream, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.emit(event{project: project, stream: stream, text: string(chunk)})
}

// Errorf records an orchestrator-level failure. It is never dropped, not
// even under an output flood; after Close it still reaches the logger.
func (s *Sink) Errorf(format string, args ...any) {
	s.writeError(time.Now(), fmt.Sprintf(format, args...))
}

// Dropped returns how many output chunks were discarded.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops accepting events, drains what is buffered and closes the error log.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()

		<-s.done
		s.errMu.Lock()
		if s.closer != nil {
			err = s.closer.Close()
		}
		s.errorLog, s.closer = nil, nil
		s.errMu.Unlock()
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("log events dropped", "count", n)
		}
	})
	return err
}

func (s *Sink) emit(ev event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		text := strings.TrimRight(ev.text, "\n")
		if ev.stream == types.StreamStderr {
			s.logger.Warn(text, "project", ev.project, "stream", string(ev.stream))
		} else {
			s.logger.Info(text, "project", ev.project, "stream", string(ev.stream))
		}
	}
}

func (s *Sink) writeError(at time.Time, text string) {
	msg := strings.TrimRight(text, "\n")
	s.logger.Error(msg)

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errorLog == nil {
		return
	}
	if _, err := fmt.Fprintf(s.errorLog, "[%s] ERROR: %s\n", at.UTC().Format(time.RFC3339), msg); err != nil {
		s.logger.Error("failed to write to error log", "error", err)
	}
}
