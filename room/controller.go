// Package room turns user intent ("I want to be in room X") into wire
// messages and reconciles the optimistic local answer with server
// confirmations. One room at a time: a join implicitly leaves the previous
// room on the server side, and the latest unconfirmed join always wins.
package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
	"github.com/iamfurukawa/furuksong2/presence"
	"github.com/iamfurukawa/furuksong2/realtime"
)

// DefaultDebounce is the window in which a repeated join request for the
// same room is treated as a duplicate UI event and dropped.
const DefaultDebounce = 500 * time.Millisecond

// Phase is the local membership state. Waiting for a server confirmation is
// represented as PhaseJoinRequested, not as a blocking call, because a
// confirmation may never arrive.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseJoinRequested
	PhaseInRoom
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoinRequested:
		return "join-requested"
	case PhaseInRoom:
		return "in-room"
	default:
		return "unknown"
	}
}

type (
	// Conn is the slice of the realtime connection the controller needs.
	Conn interface {
		Emit(event string, payload any)
		Subscribe(event string, fn realtime.Handler) func()
		OnStateChange(fn realtime.StateHandler) func()
	}

	Config struct {
		Logger   *zerolog.Logger
		Conn     Conn
		Presence *presence.Store

		// Debounce overrides DefaultDebounce; Now overrides time.Now.
		Debounce time.Duration
		Now      func() time.Time
	}

	Controller struct {
		logger   zerolog.Logger
		conn     Conn
		store    *presence.Store
		debounce time.Duration
		now      func() time.Time

		mx            sync.Mutex
		phase         Phase
		roomID        string // pending while JoinRequested, confirmed while InRoom
		lastRequested string
		lastRequestAt time.Time

		unsubs []func()
	}
)

func NewController(cfg Config) *Controller {
	c := &Controller{
		logger:   cfg.Logger.With().Str("component", "room").Logger(),
		conn:     cfg.Conn,
		store:    cfg.Presence,
		debounce: cfg.Debounce,
		now:      cfg.Now,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.unsubs = append(c.unsubs,
		c.conn.Subscribe(model.EventRoomJoined, c.handleRoomJoined),
		c.conn.Subscribe(model.EventUserStateChanged, c.handleUsersState),
		c.conn.OnStateChange(c.handleConnState),
	)
	return c
}

// Detach removes the controller's connection subscriptions.
func (c *Controller) Detach() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// Phase returns the current membership phase.
func (c *Controller) Phase() Phase {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.phase
}

// Room returns the room id the controller is in or waiting on, "" when idle.
func (c *Controller) Room() string {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.roomID
}

// RequestJoin asks the server to put the local user into roomID. Requesting
// the room we are already in is a no-op, a repeat request for the same room
// inside the debounce window is dropped, and a request for a different room
// supersedes any still-unconfirmed join.
func (c *Controller) RequestJoin(roomID, name string) {
	if roomID == "" {
		c.logger.Warn().Msg("join request without room id ignored")
		return
	}

	c.mx.Lock()
	if c.phase == PhaseInRoom && c.roomID == roomID {
		c.mx.Unlock()
		c.logger.Debug().Str("roomID", roomID).Msg("already in room, join ignored")
		return
	}
	now := c.now()
	if roomID == c.lastRequested && now.Sub(c.lastRequestAt) < c.debounce {
		c.mx.Unlock()
		c.logger.Debug().Str("roomID", roomID).Msg("duplicate join request debounced")
		return
	}
	if c.phase == PhaseJoinRequested && c.roomID != roomID {
		c.logger.Debug().
			Str("superseded", c.roomID).
			Str("roomID", roomID).
			Msg("pending join superseded")
	}
	c.phase = PhaseJoinRequested
	c.roomID = roomID
	c.lastRequested = roomID
	c.lastRequestAt = now
	c.mx.Unlock()

	c.conn.Emit(model.EventJoinRoom, model.JoinRoomRequest{RoomID: roomID, Name: name})
	c.logger.Debug().Str("roomID", roomID).Msg("join requested")
}

// RequestLeave leaves the current room (or cancels a pending join).
func (c *Controller) RequestLeave() {
	c.mx.Lock()
	if c.phase == PhaseIdle {
		c.mx.Unlock()
		return
	}
	roomID := c.roomID
	c.phase = PhaseIdle
	c.roomID = ""
	c.mx.Unlock()

	c.conn.Emit(model.EventLeaveRoom, model.LeaveRoomRequest{})
	c.store.ClearCurrentRoom()
	c.logger.Debug().Str("roomID", roomID).Msg("left room")
}

func (c *Controller) handleRoomJoined(data json.RawMessage) {
	var msg model.RoomJoined
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal join confirmation")
		return
	}

	c.mx.Lock()
	switch {
	case c.phase == PhaseJoinRequested && c.roomID == msg.RoomID:
		c.phase = PhaseInRoom
		c.mx.Unlock()
		c.logger.Debug().Str("roomID", msg.RoomID).Msg("join confirmed")
		c.store.ApplyJoinConfirmation(msg.RoomID)
	case c.phase == PhaseInRoom && c.roomID == msg.RoomID:
		// duplicate confirmation, nothing to do
		c.mx.Unlock()
	default:
		phase, roomID := c.phase, c.roomID
		c.mx.Unlock()
		c.logger.Debug().
			Str("confirmed", msg.RoomID).
			Str("roomID", roomID).
			Stringer("phase", phase).
			Msg("stale join confirmation ignored")
	}
}

func (c *Controller) handleUsersState(data json.RawMessage) {
	var snapshot model.UsersState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal presence snapshot")
		return
	}
	c.store.ApplySnapshot(snapshot)
}

// handleConnState discards local optimism whenever the connection is not
// established. Membership is never carried across connections; rejoining
// after a reconnect is the caller's decision.
func (c *Controller) handleConnState(s realtime.State) {
	if s == realtime.StateConnected {
		return
	}

	c.mx.Lock()
	wasIdle := c.phase == PhaseIdle
	c.phase = PhaseIdle
	c.roomID = ""
	c.lastRequested = ""
	c.lastRequestAt = time.Time{}
	c.mx.Unlock()

	if !wasIdle {
		c.logger.Debug().Stringer("state", s).Msg("room membership discarded")
	}
	c.store.Reset()
}
