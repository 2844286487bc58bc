package logging

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONLStore_AppendQuery(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(context.Background(), Record{Timestamp: base, Kind: KindMessage, Message: &Message{Action: "BootNotification", Status: "Accepted"}}))
	require.NoError(t, store.Append(context.Background(), Record{Timestamp: base.Add(time.Hour), Kind: KindMessage, Message: &Message{Action: "Heartbeat"}}))

	out, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = store.Query(context.Background(), Query{End: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "Accepted", out[0].Message.Status)
}

func TestOpen(t *testing.T) {
	j, err := Open(Config{})
	require.NoError(t, err)
	require.IsType(t, NopJournal{}, j)

	dir := t.TempDir()
	j, err = Open(Config{Backend: "jsonl", Path: filepath.Join(dir, "a.jsonl")})
	require.NoError(t, err)
	require.IsType(t, &JSONLStore{}, j)

	j, err = Open(Config{Backend: "jsonl", Path: filepath.Join(dir, "b.jsonl"), MaxSizeMB: 1})
	require.NoError(t, err)
	require.IsType(t, &RotatingJSONLStore{}, j)
	_ = j.Close()

	_, err = Open(Config{Backend: "csv"})
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	c := Config{Backend: "jsonl"}
	c.SetDefaults()
	require.NoError(t, c.Validate())
	require.Error(t, Config{Backend: "bogus"}.Validate())
	require.Error(t, Config{Backend: "sqlite"}.Validate())
}
