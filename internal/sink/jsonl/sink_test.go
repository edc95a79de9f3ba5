package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bionicspirit/market-crawler/internal/crawler"
)

func TestSink_WriteRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	want := []crawler.AppRecord{
		{UID: "com.a", Name: "A", IsFree: true, Price: "0"},
		{UID: "com.b", Name: "B", IsFree: false, Price: "$2.99", RatingCount: 12},
	}
	for _, rec := range want {
		require.NoError(t, s.Write(context.Background(), rec))
	}
	require.NoError(t, s.Close())
	require.EqualValues(t, 2, s.Written())

	got := readRecords(t, path)
	require.Equal(t, want, got)
}

func TestSink_ConcurrentWritesDoNotInterleave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	errs := make([]error, writers)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := crawler.AppRecord{
					UID:  fmt.Sprintf("com.w%d.i%d", w, i),
					Name: strings.Repeat("x", 64),
				}
				if err := s.Write(context.Background(), rec); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	got := readRecords(t, path)
	require.Len(t, got, writers*perWriter)

	seen := make(map[string]bool, len(got))
	for _, rec := range got {
		require.False(t, seen[rec.UID], "duplicate record %s", rec.UID)
		seen[rec.UID] = true
	}
}

func TestSink_AppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), crawler.AppRecord{UID: "com.first"}))
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), crawler.AppRecord{UID: "com.second"}))
	require.NoError(t, s.Close())

	got := readRecords(t, path)
	require.Len(t, got, 2)
	require.Equal(t, "com.first", got[0].UID)
	require.Equal(t, "com.second", got[1].UID)
}

func TestSink_CanceledContextWritesNothing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Write(ctx, crawler.AppRecord{UID: "com.a"}))
	require.NoError(t, s.Close())
	require.Empty(t, readRecords(t, path))
}

// failingFile fails every write after the first n, simulating a full disk.
type failingFile struct {
	mu       sync.Mutex
	writes   int
	failFrom int
	buf      strings.Builder
}

func (f *failingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writes > f.failFrom {
		return 0, errors.New("no space left on device")
	}
	return f.buf.WriteString(string(p))
}

func (f *failingFile) Sync() error { return nil }

func (f *failingFile) Close() error { return nil }

func TestSink_WriteFailureLeavesNoPartialLine(t *testing.T) {
	t.Parallel()

	file := &failingFile{failFrom: 2}
	s := newWithFile(file)

	require.NoError(t, s.Write(context.Background(), crawler.AppRecord{UID: "com.a"}))
	require.NoError(t, s.Write(context.Background(), crawler.AppRecord{UID: "com.b"}))
	require.Error(t, s.Write(context.Background(), crawler.AppRecord{UID: "com.c"}))
	require.EqualValues(t, 2, s.Written())

	lines := strings.Split(strings.TrimRight(file.buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var rec crawler.AppRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
	}
}

func readRecords(t *testing.T, path string) []crawler.AppRecord {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var records []crawler.AppRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		require.NotEmpty(t, line, "blank line in destination")
		var rec crawler.AppRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec), "unparseable line: %s", line)
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}
