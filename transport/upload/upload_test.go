package upload_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/processor"
	"github.com/tailored-agentic-units/statesync/session"
	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/transport/upload"
)

type recorder struct {
	mu      sync.Mutex
	updates map[string][]protocol.StateUpdate
}

func (r *recorder) Deliver(_ context.Context, sid string, upd protocol.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = map[string][]protocol.StateUpdate{}
	}
	r.updates[sid] = append(r.updates[sid], upd)
	return nil
}

func newProcessor(t *testing.T) *processor.Processor {
	t.Helper()
	class, err := state.NewBuilder("h").
		Field("img_list", []any{}).
		Field("sizes", []any{}).
		Handler("handler", func(_ context.Context, s *state.State, args state.Args) ([]state.Call, error) {
			for _, f := range args.Files("files") {
				if err := s.List("img_list").Append(f.Filename); err != nil {
					return nil, err
				}
				if err := s.List("sizes").Append(len(f.Data)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}, state.Param{Name: "files", Kind: state.KindFiles}).
		Handler("plain", func(context.Context, *state.State, state.Args) ([]state.Call, error) {
			return nil, nil
		}).
		Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	p := processor.New(&processor.Config{}, session.NewMemoryManager(class))
	// Record the session id the uploads are delivered to.
	if err := p.Process(context.Background(), protocol.NewEvent("tok", "h.set_sizes", map[string]any{"value": []any{}}), processor.Client{SID: "sid-1"}, nil); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	return p
}

func multipartRequest(t *testing.T, field string, names ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range names {
		part, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("CreateFormFile() failed: %v", err)
		}
		part.Write([]byte("data-" + name))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/_upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_Upload(t *testing.T) {
	rec := &recorder{}
	h := upload.NewHandler(&upload.Config{}, newProcessor(t), rec)

	req := multipartRequest(t, upload.FormField, "tok:h.handler:True:image1.jpg", "tok:h.handler:True:image2.jpg")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusOK, w.Body.String())
	}

	got := rec.updates["sid-1"]
	if len(got) != 1 {
		t.Fatalf("updates for sid-1 = %d, want 1", len(got))
	}
	want := protocol.Delta{"h": {
		"img_list": []any{"image1.jpg", "image2.jpg"},
		"sizes":    []any{len("data-tok:h.handler:True:image1.jpg"), len("data-tok:h.handler:True:image2.jpg")},
	}}
	if diff := cmp.Diff(want, got[0].Delta); diff != "" {
		t.Errorf("Delta mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name: "wrong method",
			request: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodGet, "/_upload", nil)
			},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			request: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/_upload", bytes.NewBufferString("x"))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "wrong field",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, "other", "tok:h.handler:a.jpg")
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "malformed name",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, upload.FormField, "image.jpg")
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing file parameter",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, upload.FormField, "tok:h.plain:a.jpg")
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown handler",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, upload.FormField, "tok:h.nope:a.jpg")
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "session without connection",
			request: func(t *testing.T) *http.Request {
				return multipartRequest(t, upload.FormField, "other:h.handler:a.jpg")
			},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			h := upload.NewHandler(&upload.Config{}, newProcessor(t), rec)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.request(t))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
			if len(rec.updates) != 0 {
				t.Errorf("delivered %d sessions, want 0", len(rec.updates))
			}
		})
	}
}

func TestConfig_Merge(t *testing.T) {
	cfg := upload.DefaultConfig()
	cfg.Merge(&upload.Config{MaxBodySize: 1024})

	if cfg.MaxBodySize != 1024 {
		t.Errorf("MaxBodySize = %d, want 1024", cfg.MaxBodySize)
	}
	if cfg.MaxMemory != 32<<20 {
		t.Errorf("MaxMemory = %d, want %d (preserved default)", cfg.MaxMemory, 32<<20)
	}
}
