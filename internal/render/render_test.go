package render

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"ypb/internal/storage"
)

type mapStore map[string][]byte

func (m mapStore) Get(ctx context.Context, id string) (*storage.Blob, error) {
	content, ok := m[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Blob{
		ID:       id,
		Size:     int64(len(content)),
		StoredAt: time.Unix(1_700_000_000, 0),
		Body:     storage.BytesBody(content),
	}, nil
}

func newResolver(t *testing.T, store mapStore, highlight string) *Resolver {
	t.Helper()
	r, err := New(Config{Store: store, Theme: "vs", Highlight: highlight})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}

func TestResolveNotFound(t *testing.T) {
	r := newResolver(t, mapStore{}, "")
	if _, err := r.Resolve(context.Background(), "nope", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolvePlainText(t *testing.T) {
	store := mapStore{"abcd": []byte("Hello, this is a test!")}
	r := newResolver(t, store, "")
	for _, ext := range []string{"", "txt"} {
		resp, err := r.Resolve(context.Background(), "abcd", ext)
		if err != nil {
			t.Fatalf("resolve %q: %v", ext, err)
		}
		if resp.Kind != KindText || resp.ContentType != ContentTypeText {
			t.Fatalf("ext %q: unexpected kind %v type %q", ext, resp.Kind, resp.ContentType)
		}
		if string(resp.Body) != "Hello, this is a test!" {
			t.Fatalf("ext %q: unexpected body %q", ext, resp.Body)
		}
	}
}

func TestResolveEmptyIsText(t *testing.T) {
	r := newResolver(t, mapStore{"AAAA": {}}, "")
	resp, err := r.Resolve(context.Background(), "AAAA", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.Kind != KindText || len(resp.Body) != 0 {
		t.Fatalf("unexpected response %v %q", resp.Kind, resp.Body)
	}
}

func TestResolveRedirectBeatsHighlight(t *testing.T) {
	store := mapStore{"url1": []byte("https://example.com/a?b=c")}
	r := newResolver(t, store, "")
	for _, ext := range []string{"", "txt", "rs"} {
		resp, err := r.Resolve(context.Background(), "url1", ext)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if resp.Kind != KindRedirect || resp.Location != "https://example.com/a?b=c" {
			t.Fatalf("ext %q: expected redirect, got %v %q", ext, resp.Kind, resp.Location)
		}
	}
}

func TestIsURL(t *testing.T) {
	cases := map[string]bool{
		"https://example.com":   true,
		"http://x":              true,
		"httpnotreally":         true,
		"https://example.com\n": false,
		"http://a b":            false,
		"http://a\tb":           false,
		" https://example.com":  false,
		"ftp://example.com":     false,
		"":                      false,
	}
	for in, want := range cases {
		if got := IsURL(in); got != want {
			t.Fatalf("IsURL(%q) = %v want %v", in, got, want)
		}
	}
}

func TestResolveClientHighlight(t *testing.T) {
	code := "fn main() {\n    println!();\n}"
	r := newResolver(t, mapStore{"code": []byte(code)}, HighlightClient)
	resp, err := r.Resolve(context.Background(), "code", "rs")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.Kind != KindHTML || resp.ContentType != ContentTypeHTML {
		t.Fatalf("unexpected kind %v type %q", resp.Kind, resp.ContentType)
	}
	page := string(resp.Body)
	for _, want := range []string{
		`<code class="rs">`,
		code,
		hljsBase + "/styles/vs.css",
		"hljs.highlightAll();",
	} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q:\n%s", want, page)
		}
	}
}

func TestResolveEscapesMarkup(t *testing.T) {
	r := newResolver(t, mapStore{"xss1": []byte("<script>alert(1)</script>")}, "")
	resp, err := r.Resolve(context.Background(), "xss1", "html")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	page := string(resp.Body)
	if strings.Contains(page, "<script>alert(1)") {
		t.Fatalf("content not escaped:\n%s", page)
	}
	if !strings.Contains(page, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Fatalf("escaped content missing:\n%s", page)
	}
}

func TestResolveServerHighlight(t *testing.T) {
	code := "package main\n\nfunc main() {}\n"
	r := newResolver(t, mapStore{"gogo": []byte(code)}, HighlightServer)
	resp, err := r.Resolve(context.Background(), "gogo", "go")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	page := string(resp.Body)
	if !strings.Contains(page, `<code class="go">`) {
		t.Fatalf("missing code element:\n%s", page)
	}
	if !strings.Contains(page, `<pre class="chroma">`) || !strings.Contains(page, "<style>") {
		t.Fatalf("missing server-side styling:\n%s", page)
	}
	if strings.Contains(page, "highlight.min.js") {
		t.Fatalf("server mode should not load highlight.js")
	}
	if !strings.Contains(page, "package") || !strings.Contains(page, "main") {
		t.Fatalf("missing source tokens:\n%s", page)
	}
}

func TestResolveServerHighlightUnknownLanguage(t *testing.T) {
	r := newResolver(t, mapStore{"unkn": []byte("just words")}, HighlightServer)
	resp, err := r.Resolve(context.Background(), "unkn", "nosuchlang")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(string(resp.Body), "just words") {
		t.Fatalf("missing text:\n%s", resp.Body)
	}
}

func TestResolveBinaryStreams(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0xff}
	r := newResolver(t, mapStore{"img1": png}, "")

	cases := map[string]string{
		"png": "image/png",
		"":    ContentTypeBinary,
		"zzz": ContentTypeBinary,
	}
	for ext, wantType := range cases {
		resp, err := r.Resolve(context.Background(), "img1", ext)
		if err != nil {
			t.Fatalf("resolve %q: %v", ext, err)
		}
		if resp.Kind != KindStream || resp.ContentType != wantType {
			t.Fatalf("ext %q: got %v %q", ext, resp.Kind, resp.ContentType)
		}
		data, err := io.ReadAll(resp.Stream)
		resp.Stream.Close()
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if string(data) != string(png) {
			t.Fatalf("stream mismatch: %v", data)
		}
	}
}

func TestResolveOversizedTextStreams(t *testing.T) {
	store := mapStore{"big1": []byte(strings.Repeat("a", 64))}
	r, err := New(Config{Store: store, TextLimit: 16})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	resp, err := r.Resolve(context.Background(), "big1", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer resp.Stream.Close()
	if resp.Kind != KindStream || resp.Size != 64 {
		t.Fatalf("expected stream of 64 bytes, got %v %d", resp.Kind, resp.Size)
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(Config{Store: mapStore{}, Highlight: "sideways"}); err == nil {
		t.Fatalf("expected error")
	}
}

type countingBody struct {
	io.ReadSeeker
	read int
}

func (c *countingBody) Read(p []byte) (int, error) {
	n, err := c.ReadSeeker.Read(p)
	c.read += n
	return n, err
}

func (c *countingBody) Close() error { return nil }

type countingStore struct {
	content []byte
	body    *countingBody
}

func (s *countingStore) Get(ctx context.Context, id string) (*storage.Blob, error) {
	s.body = &countingBody{ReadSeeker: strings.NewReader(string(s.content))}
	return &storage.Blob{ID: id, Size: int64(len(s.content)), Body: s.body}, nil
}

func TestResolveBinaryStopsAtFirstInvalidChunk(t *testing.T) {
	content := make([]byte, 8<<20)
	content[0] = 0xff
	store := &countingStore{content: content}
	r, err := New(Config{Store: store})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	resp, err := r.Resolve(context.Background(), "big1", "png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer resp.Stream.Close()
	if resp.Kind != KindStream {
		t.Fatalf("expected stream, got %v", resp.Kind)
	}
	if store.body.read > readChunk {
		t.Fatalf("read %d bytes before streaming, want at most %d", store.body.read, readChunk)
	}
	first := make([]byte, 1)
	if _, err := io.ReadFull(resp.Stream, first); err != nil || first[0] != 0xff {
		t.Fatalf("stream should start at the first byte, got %v %v", first, err)
	}
}

func TestResolveRuneAcrossChunkBoundary(t *testing.T) {
	text := strings.Repeat("a", readChunk-1) + "é" + strings.Repeat("b", 10)
	r := newResolver(t, mapStore{"utf8": []byte(text)}, "")
	resp, err := r.Resolve(context.Background(), "utf8", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resp.Kind != KindText {
		t.Fatalf("expected text, got %v", resp.Kind)
	}
	if string(resp.Body) != text {
		t.Fatalf("text changed across chunk boundary")
	}
}

func TestResolveInvalidTailStreams(t *testing.T) {
	content := append([]byte(strings.Repeat("a", readChunk+5)), 0xe2, 0x82)
	r := newResolver(t, mapStore{"tail": content}, "")
	resp, err := r.Resolve(context.Background(), "tail", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer resp.Stream.Close()
	if resp.Kind != KindStream {
		t.Fatalf("truncated rune at end should stream, got %v", resp.Kind)
	}
}
