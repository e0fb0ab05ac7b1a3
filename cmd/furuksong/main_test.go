package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/api"
)

func TestLabelsResolveFromCache(t *testing.T) {
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[{"id":"general","name":"General","createdAt":1700000000}]}`))
	})
	mux.HandleFunc("/sounds", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sounds":[{"id":"airhorn","name":"Airhorn","url":"/files/airhorn.mp3","playCount":0,"createdAt":1700000000}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	catalog, err := api.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	a := &app{
		logger:     zerolog.Nop(),
		catalog:    catalog,
		roomNames:  make(map[string]string),
		soundNames: make(map[string]string),
	}
	a.refreshCatalog(context.Background())

	// Lookups on the receive goroutine read the cache only; any HTTP call
	// there could stall the read pump past the pong deadline.
	before := requests.Load()
	if got := a.roomLabel("general"); got != "General" {
		t.Errorf("roomLabel = %q, want %q", got, "General")
	}
	if got := a.soundLabel("airhorn"); got != "Airhorn" {
		t.Errorf("soundLabel = %q, want %q", got, "Airhorn")
	}
	if got := a.roomLabel("void"); got != "void" {
		t.Errorf("unknown roomLabel = %q, want the id back", got)
	}
	if got := a.soundLabel("mystery"); got != "mystery" {
		t.Errorf("unknown soundLabel = %q, want the id back", got)
	}
	if got := requests.Load(); got != before {
		t.Errorf("label lookups made %d HTTP requests, want 0", got-before)
	}
}
