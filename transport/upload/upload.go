// Package upload adapts HTTP multipart uploads to the event processor.
// Resulting updates are pushed to the uploader's socket connection, so the
// HTTP response only reports whether the upload was accepted.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/processor"
	"github.com/tailored-agentic-units/statesync/state"
)

// FormField is the multipart field carrying the files.
const FormField = "files"

// Event types emitted by the upload handler.
const (
	EventReceived observability.EventType = "upload.received"
	EventRejected observability.EventType = "upload.rejected"
)

// Uploader dispatches uploaded files.
type Uploader interface {
	Upload(ctx context.Context, files []protocol.UploadFile, deliver processor.Deliverer) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithObserver overrides the default no-op observer.
func WithObserver(o observability.Observer) Option {
	return func(h *Handler) { h.events = observability.NewScope(o, "upload.Handler") }
}

// Handler serves the upload endpoint.
type Handler struct {
	cfg      Config
	uploader Uploader
	deliver  processor.Deliverer
	events   observability.Scope
}

// NewHandler creates an upload handler delivering updates through d.
func NewHandler(cfg *Config, u Uploader, d processor.Deliverer, opts ...Option) *Handler {
	c := DefaultConfig()
	c.Merge(cfg)

	h := &Handler{
		cfg:      c,
		uploader: u,
		deliver:  d,
		events:   observability.NewScope(nil, "upload.Handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cfg.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	}

	if err := r.ParseMultipartForm(h.cfg.MaxMemory); err != nil {
		h.reject(w, r, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[FormField]
	if len(headers) == 0 {
		h.reject(w, r, http.StatusBadRequest, fmt.Errorf("%w: no %q parts", protocol.ErrMalformedUploadName, FormField))
		return
	}

	files := make([]protocol.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			h.reject(w, r, http.StatusBadRequest, err)
			return
		}
		files = append(files, f)
	}

	h.events.Emit(r.Context(), EventReceived, observability.LevelInfo, map[string]any{
		"files": len(files),
		"first": files[0].Filename,
	})

	if err := h.uploader.Upload(r.Context(), files, h.deliver); err != nil {
		h.reject(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, status int, err error) {
	h.events.Emit(r.Context(), EventRejected, observability.LevelWarning, map[string]any{
		"status": status,
		"error":  err.Error(),
	})
	http.Error(w, err.Error(), status)
}

func readFile(fh *multipart.FileHeader) (protocol.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return protocol.UploadFile{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return protocol.UploadFile{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return protocol.UploadFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func statusFor(err error) int {
	var missing *processor.MissingUploadParameterError
	var routing *state.RoutingError
	switch {
	case errors.As(err, &missing), errors.Is(err, protocol.ErrMalformedUploadName):
		return http.StatusBadRequest
	case errors.As(err, &routing):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrNoConnection):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
