// Command furuksong is a line-oriented soundboard client. It keeps one
// websocket connection to the fan-out server, joins a room, prints presence
// changes and sound events, and reads commands from stdin:
//
//	/join <roomID>   switch rooms
//	/leave           leave the current room
//	/play <soundID>  trigger a sound for the room
//	/rooms           list rooms known to the CRUD service
//	/sounds          list the sound catalog
//	/quit            exit
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/iamfurukawa/furuksong2/api"
	"github.com/iamfurukawa/furuksong2/model"
	"github.com/iamfurukawa/furuksong2/prefs"
	"github.com/iamfurukawa/furuksong2/presence"
	"github.com/iamfurukawa/furuksong2/realtime"
	"github.com/iamfurukawa/furuksong2/room"
	"github.com/iamfurukawa/furuksong2/sound"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("furuksong", pflag.ContinueOnError)

	var (
		serverURL = fs.StringP("server", "s", "ws://localhost:8888/ws", "soundboard websocket endpoint")
		apiURL    = fs.StringP("api", "a", "http://localhost:3000", "soundboard CRUD service base url")
		name      = fs.StringP("name", "n", "", "display name (defaults to the persisted one)")
		roomID    = fs.StringP("room", "r", "", "room to join on connect (defaults to the persisted one)")
		prefsPath = fs.String("prefs", "", "preferences file path (default "+prefs.DefaultPath()+")")
		logLevel  = fs.StringP("log-level", "l", "warn", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	userPrefs := prefs.Load(*prefsPath)
	if *name == "" {
		*name = userPrefs.Name
	}
	if *name == "" {
		logger.Fatal().Msg("no display name: pass --name once, it is remembered afterwards")
	}
	if *roomID == "" {
		*roomID = userPrefs.LastRoom
	}

	catalog, err := api.NewClient(*apiURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build api client")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn := realtime.NewConn(realtime.Config{Logger: &logger})
	store := presence.NewStore(presence.Config{Logger: &logger})
	rooms := room.NewController(room.Config{Logger: &logger, Conn: conn, Presence: store})
	sounds := sound.NewChannel(sound.Config{Logger: &logger, Conn: conn})

	a := &app{
		logger:     logger,
		name:       *name,
		prefsPath:  *prefsPath,
		catalog:    catalog,
		store:      store,
		rooms:      rooms,
		desired:    *roomID,
		roomNames:  make(map[string]string),
		soundNames: make(map[string]string),
	}
	a.refreshCatalog(ctx)

	// Rejoin policy lives here, not in the realtime layer: every time the
	// connection comes up we re-issue the join for whichever room the user
	// wants to be in.
	conn.OnStateChange(func(s realtime.State) {
		if s == realtime.StateConnected {
			if target := a.desiredRoom(); target != "" {
				rooms.RequestJoin(target, a.name)
			}
			return
		}
		fmt.Printf("* connection: %s\n", s)
	})
	store.OnChange(a.printPresence)
	sounds.OnPlayed(func(played model.SoundPlayed) {
		fmt.Printf("* %s played %s\n", played.TriggeredByName, a.soundLabel(played.SoundID))
	})

	conn.Connect(ctx, *serverURL)
	defer conn.Close()

	a.readCommands(ctx, cancel, sounds)

	a.savePrefs()
}

type app struct {
	logger    zerolog.Logger
	name      string
	prefsPath string
	catalog   *api.Client
	store     *presence.Store
	rooms     *room.Controller

	mx         sync.Mutex
	desired    string
	roomNames  map[string]string
	soundNames map[string]string
}

func (a *app) desiredRoom() string {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.desired
}

func (a *app) setDesiredRoom(roomID string) {
	a.mx.Lock()
	a.desired = roomID
	a.mx.Unlock()
}

func (a *app) readCommands(ctx context.Context, cancel context.CancelFunc, sounds *sound.Channel) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "/join":
			if arg == "" {
				fmt.Println("usage: /join <roomID>")
				continue
			}
			a.setDesiredRoom(arg)
			a.rooms.RequestJoin(arg, a.name)
			a.savePrefs()
		case "/leave":
			a.setDesiredRoom("")
			a.rooms.RequestLeave()
			a.savePrefs()
		case "/play":
			if arg == "" {
				fmt.Println("usage: /play <soundID>")
				continue
			}
			sounds.Broadcast(arg)
		case "/rooms":
			a.printRooms(ctx)
		case "/sounds":
			a.printSounds(ctx)
		case "/quit":
			cancel()
			return
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func (a *app) printPresence() {
	roomID := a.store.CurrentRoom()
	if roomID == "" {
		return
	}
	state, ok := a.store.Room(roomID)
	if !ok {
		return
	}
	names := make([]string, 0, len(state.Users))
	for _, u := range state.Users {
		names = append(names, u.Name)
	}
	sort.Strings(names)
	fmt.Printf("* %s: %s\n", a.roomLabel(roomID), strings.Join(names, ", "))
}

// refreshCatalog warms the label caches from the CRUD service. Presence and
// sound handlers run on the connection's receive goroutine; a slow HTTP call
// there would hold up the read pump past the pong deadline, so the handlers
// resolve labels from these caches only.
func (a *app) refreshCatalog(ctx context.Context) {
	rooms, err := a.catalog.ListRooms(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("room catalog unavailable")
	}
	sounds, err := a.catalog.ListSounds(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("sound catalog unavailable")
	}

	a.mx.Lock()
	for _, r := range rooms {
		a.roomNames[r.ID] = r.Name
	}
	for _, s := range sounds {
		a.soundNames[s.ID] = s.Name
	}
	a.mx.Unlock()
}

func (a *app) printRooms(ctx context.Context) {
	rooms, err := a.catalog.ListRooms(ctx)
	if err != nil {
		fmt.Printf("rooms unavailable: %v\n", err)
		return
	}
	a.mx.Lock()
	for _, r := range rooms {
		a.roomNames[r.ID] = r.Name
	}
	a.mx.Unlock()
	for _, r := range rooms {
		fmt.Printf("  %s  %s\n", r.ID, r.Name)
	}
}

func (a *app) printSounds(ctx context.Context) {
	sounds, err := a.catalog.ListSounds(ctx)
	if err != nil {
		fmt.Printf("sounds unavailable: %v\n", err)
		return
	}
	a.mx.Lock()
	for _, s := range sounds {
		a.soundNames[s.ID] = s.Name
	}
	a.mx.Unlock()
	for _, s := range sounds {
		fmt.Printf("  %s  %s\n", s.ID, s.Name)
	}
}

// roomLabel resolves a room id to its cached human-readable name, falling
// back to the id itself. Cache-only, no HTTP: it is called from the receive
// goroutine.
func (a *app) roomLabel(roomID string) string {
	a.mx.Lock()
	defer a.mx.Unlock()
	if name, ok := a.roomNames[roomID]; ok {
		return name
	}
	return roomID
}

func (a *app) soundLabel(soundID string) string {
	a.mx.Lock()
	defer a.mx.Unlock()
	if name, ok := a.soundNames[soundID]; ok {
		return name
	}
	return soundID
}

func (a *app) savePrefs() {
	p := prefs.Prefs{Name: a.name, LastRoom: a.desiredRoom()}
	if err := prefs.Save(a.prefsPath, p); err != nil {
		a.logger.Warn().Err(err).Msg("failed to save preferences")
	}
}
