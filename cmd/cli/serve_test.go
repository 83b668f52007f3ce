package cli

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/stridescan/internal/config"
	"github.com/anstrom/stridescan/internal/errors"
	"github.com/anstrom/stridescan/internal/services"
	"github.com/anstrom/stridescan/internal/workers"
)

func TestServeNothingEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.API.Enabled = false
	cfg.Schedule.Enabled = false

	err := runServe(context.Background(), cfg)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestServeInvalidSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.API.Enabled = false
	cfg.Schedule.Enabled = true
	cfg.Schedule.Jobs = []config.ScheduleJob{{Name: "bad", Cron: "@hourly", Target: "10.0.0.1", Workers: 70000}}

	err := runServe(context.Background(), cfg)
	assert.True(t, errors.IsCode(err, errors.CodeWorkersInvalid))
}

func TestServeStopsOnCancel(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"api", func(c *config.Config) {}},
		{"api without metrics", func(c *config.Config) { c.Metrics.Enabled = false }},
		{"schedule only", func(c *config.Config) {
			c.API.Enabled = false
			c.Schedule.Enabled = true
			c.Schedule.Jobs = []config.ScheduleJob{{Name: "nightly", Cron: "0 3 * * *", Target: "10.0.0.1"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.API.Host = "127.0.0.1"
			cfg.API.Port = 0
			tt.mutate(cfg)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- runServe(ctx, cfg) }()

			time.Sleep(50 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("serve did not stop")
			}
		})
	}
}

func TestServeStatus(t *testing.T) {
	cfg := config.Default()
	svc := services.NewScanService(rejectSubmitter{})

	fields := serveStatus(cfg, svc, nil)
	status := make(map[string]any)
	for i := 0; i+1 < len(fields); i += 2 {
		status[fields[i].(string)] = fields[i+1]
	}

	assert.Equal(t, true, status["api_enabled"])
	assert.Equal(t, false, status["database_configured"])
	assert.Equal(t, 0, status["scans_running"])
	assert.Equal(t, "127.0.0.1:8080", status["api_address"])
	assert.NotContains(t, status, "scheduled_jobs")
}

func TestServePIDFileConflict(t *testing.T) {
	if os.Getppid() <= 1 {
		t.Skip("no parent process to point at")
	}
	path := filepath.Join(t.TempDir(), "serve.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o600))

	_, err := execute(t, "serve", "--pid-file", path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))
}

type rejectSubmitter struct{}

func (rejectSubmitter) Submit(workers.Job) error {
	return errors.NewScanError(errors.CodeQueueFull, "job queue is full")
}
