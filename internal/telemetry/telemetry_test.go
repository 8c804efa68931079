package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{
			name: "json records reach the rotated file",
			run: func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "server.log")
				log, closer, err := NewLogger(LogOptions{Format: "json", Level: "info", File: path})
				require.NoError(t, err)

				log.Debug("hidden")
				log.Info("session resolved", "session_id", "s1")
				require.NoError(t, closer.Close())

				data, err := os.ReadFile(path)
				require.NoError(t, err)
				var rec map[string]any
				require.NoError(t, json.Unmarshal(data, &rec))
				assert.Equal(t, "session resolved", rec["msg"])
				assert.Equal(t, "s1", rec["session_id"])
			},
		},
		{
			name: "debug level enables debug records",
			run: func(t *testing.T) {
				log, closer, err := NewLogger(LogOptions{Format: "text", Level: "debug"})
				require.NoError(t, err)
				defer closer.Close()
				assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
			},
		},
		{
			name: "unknown level",
			run: func(t *testing.T) {
				_, _, err := NewLogger(LogOptions{Format: "text", Level: "loud"})
				assert.Error(t, err)
			},
		},
		{
			name: "unknown format",
			run: func(t *testing.T) {
				_, _, err := NewLogger(LogOptions{Format: "xml", Level: "info"})
				assert.Error(t, err)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "", "twotruths")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
