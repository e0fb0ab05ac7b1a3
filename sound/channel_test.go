package sound

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iamfurukawa/furuksong2/model"
	"github.com/iamfurukawa/furuksong2/realtime"
)

type fakeConn struct {
	emits []model.PlaySoundRequest
	subs  map[string][]realtime.Handler
}

func newFakeConn() *fakeConn {
	return &fakeConn{subs: make(map[string][]realtime.Handler)}
}

func (f *fakeConn) Emit(event string, payload any) {
	if event != model.EventPlaySound {
		return
	}
	if req, ok := payload.(model.PlaySoundRequest); ok {
		f.emits = append(f.emits, req)
	}
}

func (f *fakeConn) Subscribe(event string, fn realtime.Handler) func() {
	f.subs[event] = append(f.subs[event], fn)
	return func() {}
}

func (f *fakeConn) fire(t *testing.T, played model.SoundPlayed) {
	t.Helper()
	b, err := json.Marshal(played)
	if err != nil {
		t.Fatalf("marshal sound event: %v", err)
	}
	for _, fn := range f.subs[model.EventSoundPlayed] {
		fn(b)
	}
}

func newTestChannel(t *testing.T) (*Channel, *fakeConn) {
	t.Helper()
	logger := zerolog.Nop()
	conn := newFakeConn()
	return NewChannel(Config{Logger: &logger, Conn: conn}), conn
}

func TestBroadcast(t *testing.T) {
	ch, conn := newTestChannel(t)

	ch.Broadcast("airhorn")
	ch.Broadcast("") // ignored

	if len(conn.emits) != 1 || conn.emits[0].SoundID != "airhorn" {
		t.Errorf("emits = %+v, want one play request for airhorn", conn.emits)
	}
}

func TestInboundFanOut(t *testing.T) {
	ch, conn := newTestChannel(t)

	var order []string
	ch.OnPlayed(func(p model.SoundPlayed) { order = append(order, "first:"+p.SoundID) })
	ch.OnPlayed(func(p model.SoundPlayed) { order = append(order, "second:"+p.SoundID) })

	conn.fire(t, model.SoundPlayed{
		SoundID:         "airhorn",
		TriggeredBy:     "c1",
		TriggeredByName: "Ana",
		Timestamp:       time.Now().UTC(),
	})

	if len(order) != 2 || order[0] != "first:airhorn" || order[1] != "second:airhorn" {
		t.Errorf("handler order = %v", order)
	}
}

// The server echoes the local client's own trigger back. The channel must
// deliver the echo like any other event; suppressing duplicates is the
// consumer's job.
func TestEchoDelivered(t *testing.T) {
	ch, conn := newTestChannel(t)

	var got []model.SoundPlayed
	ch.OnPlayed(func(p model.SoundPlayed) { got = append(got, p) })

	ch.Broadcast("airhorn")
	conn.fire(t, model.SoundPlayed{SoundID: "airhorn", TriggeredBy: "self"})
	conn.fire(t, model.SoundPlayed{SoundID: "airhorn", TriggeredBy: "self"})

	if len(got) != 2 {
		t.Errorf("delivered %d events, want 2 (echo included)", len(got))
	}
}

func TestUnsubscribeRemovesExactlyOne(t *testing.T) {
	ch, conn := newTestChannel(t)

	var count int
	fn := func(model.SoundPlayed) { count++ }
	ch.OnPlayed(fn)
	unsub := ch.OnPlayed(fn)
	unsub()
	unsub() // second call must be harmless

	conn.fire(t, model.SoundPlayed{SoundID: "airhorn"})
	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}
