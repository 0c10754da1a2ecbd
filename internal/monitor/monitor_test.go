package monitor

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailerlab/trailerd/internal/config"
	"github.com/trailerlab/trailerd/internal/influx"
	"github.com/trailerlab/trailerd/internal/logging"
	"github.com/trailerlab/trailerd/internal/parser"
	"github.com/trailerlab/trailerd/internal/run"
	"github.com/trailerlab/trailerd/internal/sim"
	"github.com/trailerlab/trailerd/internal/storage/memory"
	"github.com/trailerlab/trailerd/internal/worker"
	"github.com/trailerlab/trailerd/pkg/core"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	runner := sim.NewRunner(config.SimConfig{GoalTolerance: 2.0}, backend, nil)
	runCtx := run.NewContext()

	wm := worker.NewManager(worker.Dependencies{
		LogManager: logging.NewSlogManager(),
		RunContext: runCtx,
		Parser:     parser.New(nil, "test"),
	}, backend, runner)

	return NewService(Dependencies{
		LogManager:    logging.NewSlogManager(),
		RunContext:    runCtx,
		WorkerManager: wm,
		StatusDir:     t.TempDir(),
		IsRunning:     runner.IsRunning,
	})
}

func TestGetStatus(t *testing.T) {
	s := newTestService(t)

	status := s.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, "No run active", status.RunName)
	assert.Equal(t, "No course loaded", status.CourseName)
	assert.Zero(t, status.LastWriteDurationMs)
}

func TestGetStatus_ReflectsRunContext(t *testing.T) {
	s := newTestService(t)

	s.deps.RunContext.SetRun(
		&core.Run{Name: "Dock Approach"},
		&core.Course{Name: "Loading Bay"},
	)

	status := s.GetStatus()
	assert.Equal(t, "Dock Approach", status.RunName)
	assert.Equal(t, "Loading Bay", status.CourseName)
}

func TestReportPerformance_FeedsInflux(t *testing.T) {
	s := newTestService(t)

	var buf bytes.Buffer
	m := influx.NewManager(zerolog.Nop(), "")
	m.BackupWriter = gzip.NewWriter(&buf)
	s.deps.Influx = m

	require.NoError(t, s.reportPerformance(s.GetStatus()))
	require.NoError(t, m.BackupWriter.Close())

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Contains(t, string(data), "recorder,")
	assert.Contains(t, string(data), "running=false")
}

func TestReportPerformance_NoInfluxIsNoop(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.reportPerformance(s.GetStatus()))
}

func TestStartAndStop(t *testing.T) {
	s := newTestService(t)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	// Second start is a no-op.
	require.NoError(t, s.Start())

	// The status file appears after the first tick.
	require.Eventually(t, func() bool {
		_, err := os.Stat(s.StatusFilePath())
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	data, err := os.ReadFile(s.StatusFilePath())
	require.NoError(t, err)

	var status Status
	require.NoError(t, json.Unmarshal(data, &status))
	assert.False(t, status.Running)

	s.Stop()
	require.Eventually(t, func() bool {
		return !s.IsRunning()
	}, 5*time.Second, 10*time.Millisecond)
}
