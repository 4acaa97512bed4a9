package tracesink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanvuongngo/hindsight/internal/config"
	"github.com/vanvuongngo/hindsight/internal/engine"
)

func TestJSONLSinkAppendsOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	sink, err := NewJSONL(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev := Event{
			RequestID: "req",
			BankID:    "b",
			Query:     "q",
			Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			Trace:     &engine.Trace{Seed: uint64(i)},
		}
		require.NoError(t, sink.Publish(context.Background(), ev))
	}
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		assert.Equal(t, "b", ev.BankID)
		lines++
	}
	assert.Equal(t, 3, lines)
}

func TestNewResolvesSinks(t *testing.T) {
	s, err := New(config.TraceConfig{Sink: "none"})
	require.NoError(t, err)
	assert.NoError(t, s.Publish(context.Background(), Event{}))

	path := filepath.Join(t.TempDir(), "t.jsonl")
	s, err = New(config.TraceConfig{Sink: "jsonl", Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(config.TraceConfig{Sink: "carrier-pigeon"})
	assert.Error(t, err)
}
