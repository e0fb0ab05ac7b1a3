// Package presence holds the single writable copy of the room/member state
// pushed by the server, plus the locally confirmed current room. Any number
// of readers may observe it; only the connection's inbound handlers and the
// membership controller's confirmation path mutate it.
package presence

import (
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
)

type (
	// Observer is notified after every mutation, in registration order.
	Observer func()

	Config struct {
		Logger *zerolog.Logger
	}

	observer struct {
		id int
		fn Observer
	}

	Store struct {
		logger zerolog.Logger

		mx        sync.RWMutex
		rooms     map[string]model.RoomState
		current   string
		observers []observer
		nextID    int
	}
)

func NewStore(cfg Config) *Store {
	return &Store{
		logger: cfg.Logger.With().Str("component", "presence").Logger(),
		rooms:  make(map[string]model.RoomState),
	}
}

// ApplySnapshot replaces the stored room state entirely. Snapshots are
// authoritative; nothing from the previous state survives.
func (s *Store) ApplySnapshot(snapshot model.UsersState) {
	rooms := make(map[string]model.RoomState, len(snapshot.Rooms))
	for id, room := range snapshot.Rooms {
		users := make([]model.User, len(room.Users))
		copy(users, room.Users)
		rooms[id] = model.RoomState{Users: users}
	}

	s.mx.Lock()
	s.rooms = rooms
	s.mx.Unlock()

	if e := s.logger.Trace(); e.Enabled() {
		e.Int("rooms", len(rooms)).Msg("presence snapshot applied: " + spew.Sdump(rooms))
	}
	s.notify()
}

// ApplyJoinConfirmation records the server-confirmed current room.
func (s *Store) ApplyJoinConfirmation(roomID string) {
	s.mx.Lock()
	s.current = roomID
	s.mx.Unlock()

	s.logger.Debug().Str("roomID", roomID).Msg("room membership confirmed")
	s.notify()
}

// Reset drops all room state and the current room. Called on disconnect so
// nothing stale survives into the next connection.
func (s *Store) Reset() {
	s.mx.Lock()
	s.rooms = make(map[string]model.RoomState)
	s.current = ""
	s.mx.Unlock()

	s.logger.Debug().Msg("presence state reset")
	s.notify()
}

// ClearCurrentRoom forgets the confirmed room while keeping the snapshot.
// Used when the local user leaves a room voluntarily.
func (s *Store) ClearCurrentRoom() {
	s.mx.Lock()
	s.current = ""
	s.mx.Unlock()
	s.notify()
}

// Room returns a copy of the state of one room. The second return value is
// false when the room is absent from the latest snapshot.
func (s *Store) Room(roomID string) (model.RoomState, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return model.RoomState{}, false
	}
	users := make([]model.User, len(room.Users))
	copy(users, room.Users)
	return model.RoomState{Users: users}, true
}

// Rooms returns a copy of the full snapshot.
func (s *Store) Rooms() map[string]model.RoomState {
	s.mx.RLock()
	defer s.mx.RUnlock()

	rooms := make(map[string]model.RoomState, len(s.rooms))
	for id, room := range s.rooms {
		users := make([]model.User, len(room.Users))
		copy(users, room.Users)
		rooms[id] = model.RoomState{Users: users}
	}
	return rooms
}

// CurrentRoom returns the server-confirmed room id, or "" when the local
// user is not in any room.
func (s *Store) CurrentRoom() string {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.current
}

// OnChange registers an observer. The returned function removes exactly this
// registration.
func (s *Store) OnChange(fn Observer) func() {
	s.mx.Lock()
	s.nextID++
	id := s.nextID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mx.Unlock()

	return func() {
		s.mx.Lock()
		defer s.mx.Unlock()
		for i, obs := range s.observers {
			if obs.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) notify() {
	s.mx.RLock()
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.mx.RUnlock()

	for _, obs := range observers {
		obs.fn()
	}
}
