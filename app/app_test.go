package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/statesync/app"
	"github.com/tailored-agentic-units/statesync/core/protocol"
	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
	"github.com/tailored-agentic-units/statesync/store"
	"github.com/tailored-agentic-units/statesync/transport/rpc"
	"github.com/tailored-agentic-units/statesync/transport/socket"
)

func galleryClass(t *testing.T) *state.Class {
	t.Helper()
	class, err := state.NewBuilder("gallery").
		Field("images", []any{}).
		Field("loaded", false).
		Handler("load", func(_ context.Context, s *state.State, _ state.Args) ([]state.Call, error) {
			return nil, s.Set("loaded", true)
		}).
		Handler("add_images", func(_ context.Context, s *state.State, args state.Args) ([]state.Call, error) {
			for _, f := range args.Files("files") {
				if err := s.List("images").Append(f.Filename); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}, state.Param{Name: "files", Kind: state.KindFiles}).
		Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return class
}

func newApp(t *testing.T, cfg *app.Config) *app.App {
	t.Helper()
	routes := app.NewRoutes().Add("/", "gallery.load")
	a, err := app.New(context.Background(), cfg, galleryClass(t),
		app.WithRoutes(routes),
		app.WithObserver(observability.NoOpObserver{}),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Socket().Shutdown(ctx)
		a.Close()
	})
	return a
}

func readUpdate(t *testing.T, ws *websocket.Conn) protocol.StateUpdate {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f socket.Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if f.Type != socket.FrameEvent {
		t.Fatalf("frame type = %q, want %q (data %s)", f.Type, socket.FrameEvent, f.Data)
	}
	var upd protocol.StateUpdate
	if err := json.Unmarshal(f.Data, &upd); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return upd
}

func TestApp_HydrateAndUpload(t *testing.T) {
	a := newApp(t, &app.Config{})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + app.EventPath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer ws.Close()

	ev := protocol.NewEvent("tok", "gallery.hydrate", nil).WithRouterData(map[string]any{
		protocol.RoutePathname: "/",
	})
	data, _ := json.Marshal(ev)
	if err := ws.WriteJSON(socket.Frame{Type: socket.FrameEvent, Data: data}); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}

	wantDeltas := []protocol.Delta{
		{"gallery": {"images": []any{}, "loaded": false, "is_hydrated": false}},
		{"gallery": {"loaded": true}},
		{"gallery": {"is_hydrated": true}},
	}
	for i, want := range wantDeltas {
		got := readUpdate(t, ws)
		if diff := cmp.Diff(want, got.Delta); diff != "" {
			t.Errorf("update %d Delta mismatch (-want +got):\n%s", i, diff)
		}
		if got.Final != (i == len(wantDeltas)-1) {
			t.Errorf("update %d Final = %v", i, got.Final)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"tok:gallery.add_images:a.png", "tok:gallery.add_images:b.png"} {
		part, _ := mw.CreateFormFile("files", name)
		part.Write([]byte(name))
	}
	mw.Close()

	resp, err := http.Post(srv.URL+app.UploadPath, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	got := readUpdate(t, ws)
	want := protocol.Delta{"gallery": {"images": []any{"a.png", "b.png"}}}
	if diff := cmp.Diff(want, got.Delta); diff != "" {
		t.Errorf("upload Delta mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_Ping(t *testing.T) {
	a := newApp(t, &app.Config{})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + app.PingPath)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Errorf("GET %s = %q, want %q", app.PingPath, body, "pong")
	}

	pong, err := rpc.NewClient(srv.Client(), srv.URL).Ping(context.Background())
	if err != nil {
		t.Fatalf("rpc Ping() failed: %v", err)
	}
	if pong != "pong" {
		t.Errorf("rpc Ping() = %q, want %q", pong, "pong")
	}
}

func TestApp_DisableHydrate(t *testing.T) {
	a := newApp(t, &app.Config{DisableHydrate: true})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	_, err := rpc.NewClient(srv.Client(), srv.URL).Process(context.Background(), protocol.NewEvent("tok", "gallery.hydrate", nil), "")
	if err == nil {
		t.Error("Process(hydrate) error = nil, want routing error without hydrate middleware")
	}
}

func TestApp_FileStorePersists(t *testing.T) {
	dir := t.TempDir()
	cfg := &app.Config{Store: store.Config{Backend: store.BackendFile, Path: dir}}

	first := newApp(t, cfg)
	srv := httptest.NewServer(first.Handler())
	client := rpc.NewClient(srv.Client(), srv.URL)
	if _, err := client.Process(context.Background(), protocol.NewEvent("tok", "gallery.load", nil), ""); err != nil {
		t.Fatalf("Process() failed: %v", err)
	}
	srv.Close()

	second := newApp(t, cfg)
	root, err := second.Manager().GetState(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetState() failed: %v", err)
	}
	if !root.Bool("loaded") {
		t.Error("loaded = false after restart, want true")
	}
}

func TestApp_Sessions(t *testing.T) {
	cfg := &app.Config{Store: store.Config{Backend: store.BackendFile, Path: t.TempDir()}}
	a := newApp(t, cfg)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	client := rpc.NewClient(srv.Client(), srv.URL)
	for _, token := range []string{"t2", "t1"} {
		if _, err := client.Process(context.Background(), protocol.NewEvent(token, "gallery.load", nil), ""); err != nil {
			t.Fatalf("Process() failed: %v", err)
		}
	}

	list := func() []string {
		t.Helper()
		resp, err := http.Get(srv.URL + app.SessionsPath)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		defer resp.Body.Close()
		var body struct {
			Sessions []string `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("Decode() failed: %v", err)
		}
		return body.Sessions
	}

	if diff := cmp.Diff([]string{"t1", "t2"}, list()); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+app.SessionsPath+"/t1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	if diff := cmp.Diff([]string{"t2"}, list()); diff != "" {
		t.Errorf("sessions after reset mismatch (-want +got):\n%s", diff)
	}
}

func TestApp_Serve(t *testing.T) {
	a := newApp(t, &app.Config{ShutdownTimeout: 2})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + app.PingPath
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestNew_UnknownObserver(t *testing.T) {
	_, err := app.New(context.Background(), &app.Config{Observer: "missing"}, galleryClass(t))
	if err == nil {
		t.Error("New() error = nil, want unknown observer error")
	}
}
