package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRunnerRunsGeneration(t *testing.T) {
	r, err := NewRunner(testSettings(), zaptest.NewLogger(t))
	require.NoError(t, err)

	doc := &WorkflowDocument{
		NodeVersion: 1,
		Parameters:  map[string]any{"textInput": "={{.prompt}}"},
		Items:       promptItems("a cat", "a dog"),
	}

	records, err := r.Run(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, true, records[1].Data.(map[string]any)["placeholder"])

	// The transport is built once and reused.
	_, err = r.Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, r.transports, 1)
}

func TestRunnerUnknownTransport(t *testing.T) {
	r, err := NewRunner(testSettings(), zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), &WorkflowDocument{NodeVersion: 2, Transport: "carrier-pigeon"})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "transport", cfgErr.Field)
}

func TestNewRunnerErrors(t *testing.T) {
	s := testSettings()
	s.Profile = "netscape4"
	_, err := NewRunner(s, zaptest.NewLogger(t))
	assert.Error(t, err)

	s = testSettings()
	s.ProxyFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = NewRunner(s, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to load proxies")
}

func TestRunnerTransportNamesAreCaseInsensitive(t *testing.T) {
	r, err := NewRunner(testSettings(), zaptest.NewLogger(t))
	require.NoError(t, err)

	r.mu.Lock()
	defer r.mu.Unlock()

	lower, err := r.transport("browser")
	require.NoError(t, err)
	mixed, err := r.transport("Browser")
	require.NoError(t, err)

	assert.Same(t, lower, mixed)
	assert.Len(t, r.transports, 1)
}
