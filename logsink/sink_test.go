package logsink

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"launchpad/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOutputAndErrors(t *testing.T) {
	var logs, errs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	sink, err := New(logger, "", WithErrorWriter(&errs))
	require.NoError(t, err)

	sink.Output("sample", types.StreamStdout, []byte("listening on 3000\n"))
	sink.Output("sample", types.StreamStderr, []byte("deprecation warning\n"))
	sink.Output("sample", types.StreamStdout, nil)
	sink.Errorf("Failed to run project %s: %s", "sample", "exit status 1")

	require.NoError(t, sink.Close())

	out := logs.String()
	assert.Contains(t, out, "listening on 3000")
	assert.Contains(t, out, "project=sample")
	assert.Contains(t, out, "stream=stdout")
	assert.Contains(t, out, "stream=stderr")
	assert.Contains(t, out, "level=WARN")

	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T[^\]]+\] ERROR: Failed to run project sample: exit status 1\n$`, errs.String())
	assert.Zero(t, sink.Dropped())
}

func TestErrorLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "error.log")
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	sink, err := New(logger, path)
	require.NoError(t, err)
	sink.Errorf("first")
	sink.Errorf("second")
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ERROR: first\n")
	assert.Contains(t, string(data), "ERROR: second\n")
}

// blockingHandler holds the drain goroutine until released. Records at
// error level pass straight through.
type blockingHandler struct {
	release chan struct{}
	entered chan struct{}
}

func (h *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *blockingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return nil
	}
	select {
	case h.entered <- struct{}{}:
	default:
	}
	<-h.release
	return nil
}
func (h *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *blockingHandler) WithGroup(string) slog.Handler      { return h }

func TestEmitNeverBlocks(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	sink, err := New(slog.New(h), "", WithBuffer(1))
	require.NoError(t, err)

	sink.Output("p", types.StreamStdout, []byte("one"))
	<-h.entered // drain goroutine is now stuck on the first event

	sink.Output("p", types.StreamStdout, []byte("two"))   // fills the buffer
	sink.Output("p", types.StreamStdout, []byte("three")) // dropped
	sink.Output("p", types.StreamStdout, []byte("four"))  // dropped

	assert.Equal(t, uint64(2), sink.Dropped())

	close(h.release)
	require.NoError(t, sink.Close())

	sink.Output("p", types.StreamStdout, []byte("after close"))
	assert.Equal(t, uint64(3), sink.Dropped())
}

func TestErrorsSurviveOutputFlood(t *testing.T) {
	var errs bytes.Buffer
	h := &blockingHandler{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	sink, err := New(slog.New(h), "", WithBuffer(4), WithErrorWriter(&errs))
	require.NoError(t, err)

	sink.Output("sample", types.StreamStdout, []byte("first"))
	<-h.entered

	for i := 0; i < 10000; i++ {
		sink.Output("sample", types.StreamStdout, []byte("npm ERR! noisy line\n"))
	}
	require.Greater(t, sink.Dropped(), uint64(0))

	sink.Errorf("Failed to run project sample: exit code 1")
	assert.Contains(t, errs.String(), "ERROR: Failed to run project sample: exit code 1\n")

	close(h.release)
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, strings.Count(errs.String(), "ERROR:"))
}

func TestErrorfAfterCloseDoesNotWrite(t *testing.T) {
	var errs, logs bytes.Buffer
	sink, err := New(slog.New(slog.NewTextHandler(&logs, nil)), "", WithErrorWriter(&errs))
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	sink.Errorf("late failure")
	assert.Empty(t, errs.String())
	assert.Contains(t, logs.String(), "late failure")
	assert.Zero(t, sink.Dropped())
}
