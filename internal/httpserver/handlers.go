package httpserver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/blake2b"

	"ypb/internal/auth"
	"ypb/internal/id"
	"ypb/internal/render"
	"ypb/internal/storage"
)

const (
	welcomeText = "hello, ypb!"

	// A secret is a decimal timestamp; anything longer cannot match.
	maxSecretBytes = 1024
)

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, welcomeText)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxBytes {
		s.payloadTooLarge(w)
		return
	}
	// Unsupported when the writer does not reach a connection; the
	// server-wide ReadTimeout still applies then.
	_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(s.timeout))
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.payloadTooLarge(w)
		case errors.Is(err, os.ErrDeadlineExceeded):
			s.logger.Warn("upload timed out", "remote_addr", r.RemoteAddr)
			writeText(w, http.StatusRequestTimeout, "Request timeout")
		default:
			s.badRequest(w, err)
		}
		return
	}

	blobID := id.Generate(content)
	storedAt, err := s.store.Put(r.Context(), blobID, content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	secret, err := auth.FormatSecret(storedAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	body := fmt.Sprintf("url: %s\nshort: %s\nsize: %d bytes\nsecret: %s\n",
		s.blobURL(r, blobID), blobID, len(content), secret)
	writeText(w, http.StatusOK, body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	blobID, ext := storage.ParseName(chi.URLParam(r, "*"))
	resp, err := s.resolver.Resolve(r.Context(), blobID, ext)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch resp.Kind {
	case render.KindRedirect:
		// Set directly: http.Redirect would rewrite scheme-less targets.
		w.Header().Set("Location", resp.Location)
		w.WriteHeader(http.StatusTemporaryRedirect)
	case render.KindStream:
		defer resp.Stream.Close()
		w.Header().Set("Content-Type", resp.ContentType)
		http.ServeContent(w, r, "", resp.ModTime, resp.Stream)
	default:
		etag := etagFor(resp.Body)
		w.Header().Set("Cache-Control", "private, max-age=60")
		w.Header().Set("ETag", etag)
		if etagMatch(r.Header.Values("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", resp.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Body)
	}
}

// handleDelete removes a blob when the request body matches its secret. A
// blob that is already gone is reported as not found, whatever the body.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	segment := chi.URLParam(r, "*")
	blobID, _ := storage.ParseName(segment)

	r.Body = http.MaxBytesReader(w, r.Body, maxSecretBytes)
	secret, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			s.badRequest(w, err)
			return
		}
		if _, err := s.store.Stat(r.Context(), blobID); err != nil {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, auth.ErrForbidden)
		return
	}

	if err := auth.Authorize(r.Context(), s.store, blobID, string(secret)); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.Delete(r.Context(), blobID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("file deleted", "id", blobID)
	writeText(w, http.StatusOK, fmt.Sprintf("File %s deleted successfully", segment))
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	blobID, _ := storage.ParseName(chi.URLParam(r, "id"))
	if _, err := s.store.Stat(r.Context(), blobID); err != nil {
		s.fail(w, r, err)
		return
	}

	png, err := qrcode.Encode(s.blobURL(r, blobID), qrcode.Medium, 256)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// fail maps an error onto its status code and a short plain-text body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.notFound(w)
	case errors.Is(err, auth.ErrForbidden):
		writeText(w, http.StatusForbidden, "Permission denied")
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() != nil:
		// middleware.Timeout answers with 504 once the handler returns.
		s.logger.Warn("request timed out", "path", r.URL.Path)
	default:
		s.serverError(w, err)
	}
}

func (s *Server) notFound(w http.ResponseWriter) {
	writeText(w, http.StatusNotFound, "File not found")
}

func (s *Server) payloadTooLarge(w http.ResponseWriter) {
	writeText(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Payload too large (limit %d bytes)", s.maxBytes))
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.logger.Warn("bad request", "error", err)
	writeText(w, http.StatusBadRequest, "Bad request")
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error("internal error", "error", err)
	writeText(w, http.StatusInternalServerError, "Internal server error")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// etagFor is weak because the compressor may re-encode the body.
func etagFor(content []byte) string {
	sum := blake2b.Sum256(content)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`
}

// etagMatch applies the weak comparison If-None-Match calls for to every
// listed tag.
func etagMatch(headers []string, etag string) bool {
	want := strings.TrimPrefix(etag, "W/")
	for _, h := range headers {
		for _, tag := range strings.Split(h, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == want {
				return true
			}
		}
	}
	return false
}
