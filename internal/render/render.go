// Package render decides how a stored blob is returned to a client.
package render

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"ypb/internal/storage"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	hljsBase = "https://cdn.jsdelivr.net/gh/highlightjs/cdn-release@11.9.0/build"

	// DefaultTheme is the highlight.js / chroma style used when none is configured.
	DefaultTheme = "vs"
	// DefaultTextLimit bounds how much of a blob is inspected as text.
	DefaultTextLimit int64 = 10 * 1024 * 1024

	readChunk = 32 * 1024

	ContentTypeText   = "text/plain; charset=utf-8"
	ContentTypeHTML   = "text/html; charset=utf-8"
	ContentTypeBinary = "application/octet-stream"
)

// Highlight modes.
const (
	HighlightClient = "client"
	HighlightServer = "server"
)

// Kind is the shape of a resolved response.
type Kind int

const (
	KindText Kind = iota
	KindHTML
	KindRedirect
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindHTML:
		return "html"
	case KindRedirect:
		return "redirect"
	case KindStream:
		return "stream"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Getter loads blobs.
type Getter interface {
	Get(ctx context.Context, id string) (*storage.Blob, error)
}

// Config captures resolver configuration.
type Config struct {
	Store     Getter
	Theme     string
	Highlight string
	TextLimit int64
}

// Response describes what to send back for a retrieval request. For
// KindStream the caller owns Stream and must close it.
type Response struct {
	Kind        Kind
	ContentType string
	Location    string
	Body        []byte
	Stream      io.ReadSeekCloser
	Size        int64
	ModTime     time.Time
}

// Resolver maps (blob, extension) pairs to responses.
type Resolver struct {
	store     Getter
	theme     string
	textLimit int64
	templates *template.Template

	formatter *chromahtml.Formatter
	style     *chroma.Style
	css       template.CSS
}

type codePage struct {
	ID            string
	Lang          string
	Text          string
	Highlighted   template.HTML
	CSS           template.CSS
	StylesheetURL string
	ScriptURL     string
}

// New constructs a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Theme == "" {
		cfg.Theme = DefaultTheme
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = DefaultTextLimit
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	r := &Resolver{
		store:     cfg.Store,
		theme:     cfg.Theme,
		textLimit: cfg.TextLimit,
		templates: tmpl,
	}

	switch cfg.Highlight {
	case "", HighlightClient:
	case HighlightServer:
		r.formatter = chromahtml.New(chromahtml.WithClasses(true), chromahtml.PreventSurroundingPre(true))
		r.style = styles.Get(cfg.Theme)
		var css bytes.Buffer
		if err := r.formatter.WriteCSS(&css, r.style); err != nil {
			return nil, fmt.Errorf("render highlight css: %w", err)
		}
		r.css = template.CSS(css.String())
	default:
		return nil, fmt.Errorf("unknown highlight mode %q", cfg.Highlight)
	}
	return r, nil
}

// Resolve loads the blob for id and decides how to present it given the
// requested extension. The extension never changes which blob is loaded.
func (r *Resolver) Resolve(ctx context.Context, id, ext string) (*Response, error) {
	blob, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	data, isText, err := r.readText(blob)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if !isText {
		if _, err := blob.Body.Seek(0, io.SeekStart); err != nil {
			_ = blob.Close()
			return nil, fmt.Errorf("rewind blob: %w", err)
		}
		return &Response{
			Kind:        KindStream,
			ContentType: ContentTypeFor(ext),
			Stream:      blob.Body,
			Size:        blob.Size,
			ModTime:     blob.StoredAt,
		}, nil
	}
	_ = blob.Close()

	text := string(data)
	switch {
	case IsURL(text):
		return &Response{Kind: KindRedirect, Location: text, ModTime: blob.StoredAt}, nil
	case ext == "" || ext == storage.RawExt:
		return &Response{
			Kind:        KindText,
			ContentType: ContentTypeText,
			Body:        data,
			Size:        int64(len(data)),
			ModTime:     blob.StoredAt,
		}, nil
	}

	page, err := r.page(id, ext, text)
	if err != nil {
		return nil, err
	}
	return &Response{
		Kind:        KindHTML,
		ContentType: ContentTypeHTML,
		Body:        page,
		Size:        int64(len(page)),
		ModTime:     blob.StoredAt,
	}, nil
}

// readText reads the blob in chunks and stops at the first invalid UTF-8
// sequence or once the text limit is passed. Only content that proves to be
// text is returned.
func (r *Resolver) readText(blob *storage.Blob) ([]byte, bool, error) {
	if blob.Size > r.textLimit {
		return nil, false, nil
	}
	var (
		data    []byte
		checked int
		chunk   = make([]byte, readChunk)
	)
	for {
		n, err := blob.Body.Read(chunk)
		if n > 0 {
			if int64(len(data)+n) > r.textLimit {
				return nil, false, nil
			}
			data = append(data, chunk[:n]...)
			end := validEnd(data[checked:])
			if !utf8.Valid(data[checked : checked+end]) {
				return nil, false, nil
			}
			checked += end
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, err
		}
	}
	if !utf8.Valid(data[checked:]) {
		return nil, false, nil
	}
	return data, true, nil
}

// validEnd is the length of b without a trailing incomplete rune, which may
// still be completed by the next chunk.
func validEnd(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}

func (r *Resolver) page(id, lang, text string) ([]byte, error) {
	data := codePage{
		ID:            id,
		Lang:          lang,
		Text:          text,
		StylesheetURL: hljsBase + "/styles/" + r.theme + ".css",
		ScriptURL:     hljsBase + "/highlight.min.js",
	}
	if r.formatter != nil {
		highlighted, err := r.highlight(lang, text)
		if err != nil {
			return nil, err
		}
		data.Highlighted = highlighted
		data.CSS = r.css
	}
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, "code", data); err != nil {
		return nil, fmt.Errorf("render code page: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Resolver) highlight(lang, text string) (template.HTML, error) {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return "", fmt.Errorf("tokenise %s: %w", lang, err)
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return "", fmt.Errorf("highlight %s: %w", lang, err)
	}
	return template.HTML(buf.String()), nil
}

// IsURL reports whether text should be served as a redirect.
func IsURL(text string) bool {
	return strings.HasPrefix(text, "http") && strings.IndexFunc(text, unicode.IsSpace) < 0
}

// ContentTypeFor guesses a content type from a file extension.
func ContentTypeFor(ext string) string {
	if ext == "" {
		return ContentTypeBinary
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		return ct
	}
	return ContentTypeBinary
}
