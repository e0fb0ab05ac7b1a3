// Package api talks to the soundboard CRUD service. The realtime core only
// needs it for lookups: room labels for ids, and the sound/category catalog.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Catalog is the slice of the CRUD service the client needs. Implemented by
// *Client; tests substitute their own.
type Catalog interface {
	ListRooms(ctx context.Context) ([]Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	ListSounds(ctx context.Context) ([]Sound, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

var _ Catalog = (*Client)(nil)

var ErrRoomNotFound = errors.New("room not found")

type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Sound struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	PlayCount  int        `json:"playCount"`
	CreatedAt  int64      `json:"createdAt"`
	Categories []Category `json:"categories"`
}

type roomListResponse struct {
	Rooms []Room `json:"rooms"`
}

type soundListResponse struct {
	Sounds []Sound `json:"sounds"`
}

type categoryListResponse struct {
	Categories []Category `json:"categories"`
}

const (
	defaultUserAgent = "furuksong2/0.1"
	requestTimeout   = 5 * time.Second
)

// Client talks to the soundboard HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// NewClient builds a Client from the service base URL, e.g.
// "http://localhost:3000".
func NewClient(baseURL string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// ListRooms retrieves all rooms.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload roomListResponse
	if err := c.do(ctx, "/rooms", &payload); err != nil {
		return nil, err
	}
	return payload.Rooms, nil
}

// GetRoom resolves a room id to its full record, including the
// human-readable label. Returns ErrRoomNotFound for unknown ids.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	rooms, err := c.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		if rooms[i].ID == roomID {
			return &rooms[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
}

// ListSounds retrieves the sound catalog.
func (c *Client) ListSounds(ctx context.Context) ([]Sound, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload soundListResponse
	if err := c.do(ctx, "/sounds", &payload); err != nil {
		return nil, err
	}
	return payload.Sounds, nil
}

// ListCategories retrieves all categories.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var payload categoryListResponse
	if err := c.do(ctx, "/categories", &payload); err != nil {
		return nil, err
	}
	return payload.Categories, nil
}

func (c *Client) do(ctx context.Context, path string, out any) error {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("api base url %q has no host", raw)
	}
	return base, nil
}
