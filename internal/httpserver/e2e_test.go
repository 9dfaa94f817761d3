package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ypb/internal/storage/fsstore"
	"ypb/internal/sweep"
)

func newE2E(t *testing.T) (*httptest.Server, *fsstore.Store, *http.Client) {
	t.Helper()
	store, err := fsstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	srv, err := New(Config{Store: store, MaxBytes: 1024})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := &http.Client{Timeout: 5 * time.Second, CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	return ts, store, client
}

func send(t *testing.T, client *http.Client, method, url string, body string) (int, http.Header, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, resp.Header, string(data)
}

func TestEndToEndUploadViewDelete(t *testing.T) {
	ts, store, client := newE2E(t)

	status, _, body := send(t, client, http.MethodPut, ts.URL+"/", "fn main() {}\n")
	if status != http.StatusOK {
		t.Fatalf("upload status %d: %s", status, body)
	}
	link := field(t, body, "url")
	short := field(t, body, "short")
	secret := field(t, body, "secret")
	if link != ts.URL+"/"+short {
		t.Fatalf("unexpected url %q", link)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), short+".txt")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	status, header, raw := send(t, client, http.MethodGet, link, "")
	if status != http.StatusOK || raw != "fn main() {}\n" {
		t.Fatalf("raw view %d %q", status, raw)
	}
	if ct := header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected raw content type %q", ct)
	}

	status, header, page := send(t, client, http.MethodGet, link+".rs", "")
	if status != http.StatusOK || !strings.Contains(page, `class="rs"`) {
		t.Fatalf("highlighted view %d %q", status, page)
	}
	if ct := header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected html content type %q", ct)
	}

	if status, _, _ := send(t, client, http.MethodDelete, link, "0"); status != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", status)
	}
	if status, _, _ := send(t, client, http.MethodDelete, link, secret); status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if status, _, _ := send(t, client, http.MethodGet, link, ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", status)
	}
}

func TestEndToEndRedirect(t *testing.T) {
	ts, _, client := newE2E(t)

	_, _, body := send(t, client, http.MethodPut, ts.URL+"/", "https://example.com")
	short := field(t, body, "short")
	if short != "_ylc" {
		t.Fatalf("unexpected id %q", short)
	}
	status, header, _ := send(t, client, http.MethodGet, ts.URL+"/"+short, "")
	if status != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307 got %d", status)
	}
	if loc := header.Get("Location"); loc != "https://example.com" {
		t.Fatalf("unexpected location %q", loc)
	}
}

func TestEndToEndTooLarge(t *testing.T) {
	ts, store, client := newE2E(t)

	status, _, body := send(t, client, http.MethodPut, ts.URL+"/", strings.Repeat("x", 1025))
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", status)
	}
	if !strings.Contains(body, "1024") {
		t.Fatalf("expected limit in body, got %q", body)
	}
	ids, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("nothing should be stored, got %v", ids)
	}
}

func TestEndToEndCompression(t *testing.T) {
	ts, _, _ := newE2E(t)
	content := strings.Repeat("compress me please\n", 40)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/", strings.NewReader(content))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	short := field(t, string(body), "short")

	get, _ := http.NewRequest(http.MethodGet, ts.URL+"/"+short, nil)
	get.Header.Set("Accept-Encoding", "gzip")
	tr := &http.Transport{DisableCompression: true}
	defer tr.CloseIdleConnections()
	resp, err = (&http.Client{Transport: tr}).Do(get)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if enc := resp.Header.Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", enc)
	}
	compressed, _ := io.ReadAll(resp.Body)
	if len(compressed) >= len(content) || bytes.Equal(compressed, []byte(content)) {
		t.Fatalf("body was not compressed")
	}
}

func TestEndToEndExpiry(t *testing.T) {
	ts, store, client := newE2E(t)

	_, _, oldBody := send(t, client, http.MethodPut, ts.URL+"/", "old paste")
	_, _, youngBody := send(t, client, http.MethodPut, ts.URL+"/", "young paste")
	oldID := field(t, oldBody, "short")
	youngID := field(t, youngBody, "short")

	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(filepath.Join(store.Root(), oldID+".txt"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sw, err := sweep.New(sweep.Config{Store: store, Retention: time.Hour})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	res := sw.Pass(context.Background())
	if res.Scanned != 2 || res.Removed != 1 || res.Failed != 0 {
		t.Fatalf("unexpected sweep result %+v", res)
	}

	if status, _, _ := send(t, client, http.MethodGet, ts.URL+"/"+oldID, ""); status != http.StatusNotFound {
		t.Fatalf("expired paste should be gone, got %d", status)
	}
	if status, _, body := send(t, client, http.MethodGet, ts.URL+"/"+youngID, ""); status != http.StatusOK || body != "young paste" {
		t.Fatalf("young paste should survive, got %d %q", status, body)
	}
}

func TestEndToEndStalledUploadIsAbandoned(t *testing.T) {
	store, err := fsstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	srv, err := New(Config{Store: store, Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	hs := srv.HTTPServer("")
	ts := httptest.NewUnstartedServer(hs.Handler)
	ts.Config = hs
	ts.Start()
	defer ts.Close()

	conn, err := net.Dial("tcp", ts.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := fmt.Fprint(conn, "PUT / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 100\r\n\r\npartial"); err != nil {
		t.Fatalf("write request: %v", err)
	}

	// The body never completes; the server must give up on its own.
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, err = io.ReadAll(conn)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatalf("server still holding the stalled upload after 3s")
	}

	ids, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("nothing should be stored, got %v", ids)
	}
}
