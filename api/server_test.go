package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"dualcam-dvr/bookings"
)

type stubScheduler struct{ state string }

func (s stubScheduler) State() string { return s.state }

type stubWorker struct{ depth int }

func (s stubWorker) QueueDepth() int { return s.depth }

type stubConn struct{ online bool }

func (s stubConn) IsOnline() bool { return s.online }

func TestHealthz(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	store := bookings.NewStore(filepath.Join(t.TempDir(), "bookings.json"))
	store.Save([]bookings.Booking{
		{ID: "b1", Status: bookings.StatusScheduled},
		{ID: "b2", Status: bookings.StatusScheduled},
		{ID: "b3", Status: bookings.StatusRecording},
	})

	s := NewServer(stubScheduler{"recording"}, stubWorker{3}, stubConn{true}, store)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}

	var body struct {
		Scheduler      string         `json:"scheduler"`
		PendingUploads int            `json:"pending_uploads"`
		Online         bool           `json:"online"`
		Bookings       map[string]int `json:"bookings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Scheduler != "recording" || body.PendingUploads != 3 || !body.Online {
		t.Errorf("unexpected status body: %+v", body)
	}
	if body.Bookings["scheduled"] != 2 || body.Bookings["recording"] != 1 {
		t.Errorf("unexpected booking counts: %v", body.Bookings)
	}
}
