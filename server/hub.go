package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
)

// Hub tracks connected clients and their room membership, confirms joins,
// pushes a full presence snapshot to every client on any membership change
// (connects and disconnects included),
// and fans sound triggers out to the triggering client's room (the sender
// included, so its own UI reacts through the same path as everyone else's).
type Hub struct {
	logger zerolog.Logger

	mx      sync.Mutex
	clients map[string]*client
}

type client struct {
	id     string
	name   string
	roomID string // "" while not in any room
	tx     chan model.Envelope
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[string]*client),
	}
}

func (h *Hub) add(id string, tx chan model.Envelope) {
	h.mx.Lock()
	h.clients[id] = &client{id: id, tx: tx}
	h.mx.Unlock()

	h.logger.Debug().Str("connID", id).Msg("client connected")
	// A connect is a membership change like any other; broadcasting here
	// also hands the new client the current snapshot so it never starts
	// with an empty view of the rooms.
	h.broadcastState()
}

func (h *Hub) remove(id string) {
	h.mx.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mx.Unlock()

	h.logger.Debug().Str("connID", id).Msg("client disconnected")
	if ok && c.roomID != "" {
		h.broadcastState()
	}
}

// handle processes one inbound message from the client identified by id.
func (h *Hub) handle(id string, env model.Envelope) {
	switch env.Event {
	case model.EventJoinRoom:
		var req model.JoinRoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.logger.Error().Err(err).Str("connID", id).Msg("bad join request")
			return
		}
		if req.RoomID == "" {
			h.logger.Warn().Str("connID", id).Msg("join request without room id")
			return
		}
		h.join(id, req)

	case model.EventLeaveRoom:
		h.leave(id)

	case model.EventPlaySound:
		var req model.PlaySoundRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.logger.Error().Err(err).Str("connID", id).Msg("bad play request")
			return
		}
		h.play(id, req)

	default:
		h.logger.Warn().Str("connID", id).Str("event", env.Event).Msg("unknown event")
	}
}

// join moves the client into the requested room. Joining implicitly leaves
// whatever room the client was in before; no separate leave is expected.
func (h *Hub) join(id string, req model.JoinRoomRequest) {
	h.mx.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mx.Unlock()
		return
	}
	c.name = req.Name
	c.roomID = req.RoomID
	h.mx.Unlock()

	h.logger.Debug().
		Str("connID", id).
		Str("roomID", req.RoomID).
		Str("name", req.Name).
		Msg("client joined room")
	h.send(c, model.EventRoomJoined, model.RoomJoined{RoomID: req.RoomID})
	h.broadcastState()
}

func (h *Hub) leave(id string) {
	h.mx.Lock()
	c, ok := h.clients[id]
	if !ok || c.roomID == "" {
		h.mx.Unlock()
		return
	}
	roomID := c.roomID
	c.roomID = ""
	h.mx.Unlock()

	h.logger.Debug().Str("connID", id).Str("roomID", roomID).Msg("client left room")
	h.broadcastState()
}

func (h *Hub) play(id string, req model.PlaySoundRequest) {
	h.mx.Lock()
	c, ok := h.clients[id]
	if !ok || c.roomID == "" {
		h.mx.Unlock()
		h.logger.Debug().Str("connID", id).Msg("play request outside a room dropped")
		return
	}
	members := make([]*client, 0, len(h.clients))
	for _, m := range h.clients {
		if m.roomID == c.roomID {
			members = append(members, m)
		}
	}
	played := model.SoundPlayed{
		SoundID:         req.SoundID,
		TriggeredBy:     c.id,
		TriggeredByName: c.name,
		Timestamp:       time.Now().UTC(),
	}
	h.mx.Unlock()

	h.logger.Debug().
		Str("connID", id).
		Str("soundID", req.SoundID).
		Int("listeners", len(members)).
		Msg("sound fanned out")
	for _, m := range members {
		h.send(m, model.EventSoundPlayed, played)
	}
}

// broadcastState pushes the full presence snapshot to every connected
// client. Always the whole state, never a diff.
func (h *Hub) broadcastState() {
	h.mx.Lock()
	rooms := make(map[string]model.RoomState)
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
		if c.roomID == "" {
			continue
		}
		room := rooms[c.roomID]
		room.Users = append(room.Users, model.User{ConnectionID: c.id, Name: c.name})
		rooms[c.roomID] = room
	}
	h.mx.Unlock()

	state := model.UsersState{Rooms: rooms}
	for _, c := range targets {
		h.send(c, model.EventUserStateChanged, state)
	}
}

func (h *Hub) send(c *client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("failed to marshal outgoing payload")
		return
	}
	select {
	case c.tx <- model.Envelope{Event: event, Data: data}:
	default:
		h.logger.Warn().
			Str("connID", c.id).
			Str("event", event).
			Msg("message to slow client dropped")
	}
}
