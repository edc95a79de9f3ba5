package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bionicspirit/market-crawler/internal/crawler"
)

func TestTemplateBase(t *testing.T) {
	t.Parallel()

	base, err := templateBase("https://market.android.com/catalog?page=%d")
	require.NoError(t, err)
	require.Equal(t, "https://market.android.com", base)
}

func snippet(uid, name string) string {
	return fmt.Sprintf(`<div class="snippet">
  <a class="title" href="/details?id=%s">%s</a>
  <div class="attribution"><a href="/developer?pub=Dev">Dev</a></div>
  <span class="buy-button-price">Install</span>
</div>`, uid, name)
}

func TestCrawlCommand_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body string
		switch r.URL.Query().Get("page") {
		case "0":
			body = snippet("com.example.one", "One") + snippet("com.example.two", "Two")
		case "1":
			body = snippet("com.example.three", "Three")
		default:
			body = ""
		}
		fmt.Fprintf(w, `<html><body><div class="apps-listing">%s</div></body></html>`, body)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "records.jsonl")

	root := newRootCmd()
	root.SetArgs([]string{
		"crawl", dest,
		"--url-template", server.URL + "/catalog?page=%d",
		"--concurrency", "3",
		"--max-attempts", "2",
	})
	require.NoError(t, root.Execute())

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	uids := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec crawler.AppRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		uids[rec.UID] = true
	}
	require.NoError(t, scanner.Err())
	require.Len(t, uids, 3)
	require.True(t, uids["com.example.one"])
	require.True(t, uids["com.example.two"])
	require.True(t, uids["com.example.three"])
}
