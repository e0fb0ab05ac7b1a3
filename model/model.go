package model

import (
	"encoding/json"
	"time"
)

// Event names shared by both directions of the soundboard protocol.
const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventPlaySound        = "play-sound"
	EventUserStateChanged = "user-state-changed"
	EventRoomJoined       = "room-joined"
	EventSoundPlayed      = "sound-played"
)

// Envelope wraps every message on the wire. Data holds the event-specific
// payload and stays raw until a subscriber for that event decodes it.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type LeaveRoomRequest struct{}

type PlaySoundRequest struct {
	SoundID string `json:"soundId"`
}

// User identifies a member of a room. ConnectionID is assigned by the server
// per connection and is not stable across reconnects.
type User struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
}

type RoomState struct {
	Users []User `json:"users"`
}

// UsersState is the full presence snapshot pushed by the server on every
// membership change anywhere. It always replaces prior state entirely.
type UsersState struct {
	Rooms map[string]RoomState `json:"rooms"`
}

type RoomJoined struct {
	RoomID string `json:"roomId"`
}

type SoundPlayed struct {
	SoundID         string    `json:"soundId"`
	TriggeredBy     string    `json:"triggeredBy"`
	TriggeredByName string    `json:"triggeredByName"`
	Timestamp       time.Time `json:"timestamp"`
}
