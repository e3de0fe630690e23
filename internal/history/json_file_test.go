package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONFile_CreatesEmptyArray(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat_log.json")

	_, err := OpenJSONFile(path, slog.Default())
	req.NoError(err)

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.JSONEq(`[]`, string(data))
}

func TestJSONFile_AppendWritesRecordShape(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat_log.json")
	sink, err := OpenJSONFile(path, nil)
	req.NoError(err)

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	req.NoError(sink.Append(context.Background(), NewRecord("alice", "bob", "hi", at)))

	data, err := os.ReadFile(path)
	req.NoError(err)
	req.JSONEq(`[{"from":"alice","to":"bob","content":"hi","timestamp":"2024-03-09 14:05:07"}]`, string(data))
	req.Contains(string(data), "\n    {")
}

func TestJSONFile_KeepsExistingEntries(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat_log.json")
	req.NoError(os.WriteFile(path, []byte(`[{"from":"x","to":"y","content":"old","timestamp":"2023-01-01 00:00:00"}]`), 0o644))

	sink, err := OpenJSONFile(path, nil)
	req.NoError(err)
	req.NoError(sink.Append(context.Background(), NewRecord("alice", "bob", "new", time.Now())))

	records, err := sink.Records(context.Background(), 0)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal("old", records[0].Content)
	req.Equal("new", records[1].Content)
}

func TestJSONFile_RecordsLimitKeepsNewest(t *testing.T) {
	req := require.New(t)
	sink, err := OpenJSONFile(filepath.Join(t.TempDir(), "chat_log.json"), nil)
	req.NoError(err)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		req.NoError(sink.Append(ctx, NewRecord("alice", "bob", fmt.Sprint(i), base.Add(time.Duration(i)*time.Second))))
	}

	records, err := sink.Records(ctx, 2)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal("3", records[0].Content)
	req.Equal("4", records[1].Content)
	req.True(records[1].At.Equal(base.Add(4 * time.Second)))
}

func TestJSONFile_ConcurrentAppends(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat_log.json")
	sink, err := OpenJSONFile(path, nil)
	req.NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sink.Append(context.Background(), NewRecord(fmt.Sprintf("user%d", i), "bob", "hi", time.Now()))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	req.NoError(err)
	var entries []map[string]string
	req.NoError(json.Unmarshal(data, &entries))
	req.Len(entries, 20)
}

func TestJSONFile_CanceledContext(t *testing.T) {
	sink, err := OpenJSONFile(filepath.Join(t.TempDir(), "chat_log.json"), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Append(ctx, NewRecord("a", "b", "c", time.Now())), context.Canceled)
}
