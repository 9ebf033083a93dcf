package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"tokenwatch/pkg/model"
)

func TestClient_Upload(t *testing.T) {
	// Mock Server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/hooks/token" {
			t.Errorf("Expected path /hooks/token, got %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected method POST, got %s", r.Method)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var e model.TokenEvent
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("Invalid JSON: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if e.SystemID != "user_center" || e.Kind != model.EventAcquired {
			t.Errorf("unexpected event %+v", e)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL+"/hooks/token", time.Second)
	e := &model.TokenEvent{ID: "1", Kind: model.EventAcquired, SystemID: "user_center"}
	if err := c.Upload(context.Background(), e); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

func TestClient_UploadNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, time.Second)
	if err := c.Upload(context.Background(), &model.TokenEvent{}); err == nil {
		t.Error("Expected error on 500")
	}
}

func TestSink_DeliversInBackground(t *testing.T) {
	var got atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewSink(NewClient(server.URL, time.Second), 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 3; i++ {
		if err := s.Deliver(model.TokenEvent{Kind: model.EventExpired}); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for got.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got.Load() != 3 {
		t.Errorf("server received %d; want 3", got.Load())
	}
}

func TestSink_QueueFull(t *testing.T) {
	s := NewSink(NewClient("http://127.0.0.1:1", time.Second), 1, zap.NewNop())
	if err := s.Deliver(model.TokenEvent{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(model.TokenEvent{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v; want ErrQueueFull", err)
	}
}
