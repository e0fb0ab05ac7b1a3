package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rooms":[
			{"id":"general","name":"General","createdAt":1700000000},
			{"id":"gaming","name":"Gaming Corner","createdAt":1700000100}
		]}`))
	})
	mux.HandleFunc("/sounds", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sounds":[
			{"id":"airhorn","name":"Airhorn","url":"/files/airhorn.mp3","playCount":42,"createdAt":1700000000,
			 "categories":[{"id":"memes","label":"Memes"}]}
		]}`))
	})
	mux.HandleFunc("/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"categories":[{"id":"memes","label":"Memes"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListRooms(t *testing.T) {
	srv := newTestService(t)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	rooms, err := c.ListRooms(context.Background())
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ID != "general" || rooms[1].Name != "Gaming Corner" {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestGetRoom(t *testing.T) {
	srv := newTestService(t)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Run("known id resolves to its label", func(t *testing.T) {
		r, err := c.GetRoom(context.Background(), "gaming")
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if r.Name != "Gaming Corner" {
			t.Errorf("label = %q, want %q", r.Name, "Gaming Corner")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := c.GetRoom(context.Background(), "void")
		if !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("err = %v, want ErrRoomNotFound", err)
		}
	})
}

func TestListSoundsAndCategories(t *testing.T) {
	srv := newTestService(t)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	sounds, err := c.ListSounds(context.Background())
	if err != nil {
		t.Fatalf("ListSounds: %v", err)
	}
	if len(sounds) != 1 || sounds[0].Name != "Airhorn" || len(sounds[0].Categories) != 1 {
		t.Errorf("sounds = %+v", sounds)
	}

	categories, err := c.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(categories) != 1 || categories[0].Label != "Memes" {
		t.Errorf("categories = %+v", categories)
	}
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.ListRooms(context.Background()); err == nil {
		t.Error("expected an error for a 500 response")
	}
}

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"full url", "http://localhost:3000", false},
		{"bare host", "localhost:3000", false},
		{"empty", "", true},
		{"spaces only", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}
