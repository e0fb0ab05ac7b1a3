// Package sound is the fire-and-forget broadcast path for room-scoped sound
// triggers. No acknowledgement, no retry: a trigger sent while disconnected
// is dropped, and the server echoes the local client's own triggers back, so
// consumers must handle a repeated notification idempotently (the soundboard
// UI treats a repeat as a stop toggle).
package sound

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
	"github.com/iamfurukawa/furuksong2/realtime"
)

type (
	// Handler receives every inbound sound event, including echoes of the
	// local client's own triggers.
	Handler func(played model.SoundPlayed)

	Conn interface {
		Emit(event string, payload any)
		Subscribe(event string, fn realtime.Handler) func()
	}

	Config struct {
		Logger *zerolog.Logger
		Conn   Conn
	}

	handler struct {
		id int
		fn Handler
	}

	Channel struct {
		logger zerolog.Logger
		conn   Conn

		mx       sync.Mutex
		handlers []handler
		nextID   int

		unsub func()
	}
)

func NewChannel(cfg Config) *Channel {
	ch := &Channel{
		logger: cfg.Logger.With().Str("component", "sound").Logger(),
		conn:   cfg.Conn,
	}
	ch.unsub = ch.conn.Subscribe(model.EventSoundPlayed, ch.handlePlayed)
	return ch
}

// Detach removes the channel's connection subscription.
func (ch *Channel) Detach() {
	if ch.unsub != nil {
		ch.unsub()
		ch.unsub = nil
	}
}

// Broadcast asks the server to play soundID for everyone in the current
// room. Best effort: while disconnected the connection drops the message.
func (ch *Channel) Broadcast(soundID string) {
	if soundID == "" {
		ch.logger.Warn().Msg("broadcast without sound id ignored")
		return
	}
	ch.conn.Emit(model.EventPlaySound, model.PlaySoundRequest{SoundID: soundID})
	ch.logger.Debug().Str("soundID", soundID).Msg("sound broadcast")
}

// OnPlayed registers fn for inbound sound events. The returned function
// removes exactly this registration.
func (ch *Channel) OnPlayed(fn Handler) func() {
	ch.mx.Lock()
	ch.nextID++
	id := ch.nextID
	ch.handlers = append(ch.handlers, handler{id: id, fn: fn})
	ch.mx.Unlock()

	return func() {
		ch.mx.Lock()
		defer ch.mx.Unlock()
		for i, h := range ch.handlers {
			if h.id == id {
				ch.handlers = append(ch.handlers[:i:i], ch.handlers[i+1:]...)
				break
			}
		}
	}
}

func (ch *Channel) handlePlayed(data json.RawMessage) {
	var played model.SoundPlayed
	if err := json.Unmarshal(data, &played); err != nil {
		ch.logger.Error().Err(err).Msg("failed to unmarshal sound event")
		return
	}

	ch.mx.Lock()
	handlers := make([]handler, len(ch.handlers))
	copy(handlers, ch.handlers)
	ch.mx.Unlock()

	ch.logger.Trace().
		Str("soundID", played.SoundID).
		Str("triggeredBy", played.TriggeredByName).
		Msg("sound event received")
	for _, h := range handlers {
		h.fn(played)
	}
}
