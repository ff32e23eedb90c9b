package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"zoneserver.ai/internal/protocol"
	"zoneserver.ai/internal/sim/world"
)

// bot joins a zone, wanders around its spawn point and keeps a client-side scene.
func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name    = flag.String("name", "bot", "avatar name")
		terrain = flag.String("terrain", "", "spawn terrain (server default when empty)")
		every   = flag.Duration("move_every", 500*time.Millisecond, "interval between MOVE requests")
		step    = flag.Float64("step", 16, "max distance per move")
		report  = flag.Duration("report_every", 10*time.Second, "scene summary interval")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("bot", *name)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Error("dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Terrain:         *terrain,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Error("send HELLO", "err", err)
		os.Exit(1)
	}

	frames := make(chan []byte, 256)
	go func() {
		defer close(frames)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Info("connection closed", "err", err)
				return
			}
			frames <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{log: logger, scene: map[uint64]world.ObjectView{}}
	moveT := time.NewTicker(*every)
	defer moveT.Stop()
	reportT := time.NewTicker(*report)
	defer reportT.Stop()

	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			b.handle(msg)
		case <-moveT.C:
			if b.avatar == 0 {
				continue
			}
			m := b.nextMove(*step)
			if err := conn.WriteJSON(m); err != nil {
				logger.Error("send MOVE", "err", err)
				return
			}
		case <-reportT.C:
			b.summary()
		}
	}
}

type bot struct {
	log *slog.Logger

	avatar  uint64
	spawn   world.Location
	pos     world.Location
	scene   map[uint64]world.ObjectView
	seq     int
	counts  map[string]int
	refused int
}

func (b *bot) count(kind string) {
	if b.counts == nil {
		b.counts = map[string]int{}
	}
	b.counts[kind]++
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	b.count(base.Type)
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		b.avatar = w.AvatarID
		b.log.Info("WELCOME",
			"session", w.SessionID,
			"avatar", w.AvatarID,
			"zone", w.ZoneParams.ZoneID,
			"terrain", w.ZoneParams.Terrain,
			"discovery_radius", w.ZoneParams.DiscoveryRadius,
			"templates", w.Catalogs.Templates.Count,
		)

	case protocol.TypeSceneCreate:
		var m protocol.SceneCreateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		b.scene[uint64(m.Object.ID)] = m.Object
		if uint64(m.Object.ID) == b.avatar {
			b.spawn = m.Object.Loc
			b.pos = m.Object.Loc
		}

	case protocol.TypeSceneDestroy:
		var m protocol.SceneDestroyMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		delete(b.scene, m.ObjectID)

	case protocol.TypeUpdateContainment:
		var m protocol.UpdateContainmentMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if v, ok := b.scene[m.ObjectID]; ok {
			v.Parent = world.ObjectID(m.ContainerID)
			v.Arrangement = m.Arrangement
			b.scene[m.ObjectID] = v
		}

	case protocol.TypeStackUpdate:
		var m protocol.StackUpdateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if v, ok := b.scene[m.ObjectID]; ok {
			v.Counter = m.Counter
			b.scene[m.ObjectID] = v
		}

	case protocol.TypeResult:
		var m protocol.ResultMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if !m.Accepted {
			b.refused++
			b.log.Warn("request refused", "req_id", m.ReqID, "code", m.Code, "message", m.Message)
		}
	}
}

// nextMove steps in a random direction, pulled back towards the spawn point once the
// bot has wandered more than ten steps away.
func (b *bot) nextMove(step float64) protocol.MoveMsg {
	b.seq++
	heading := rand.Float64() * 2 * math.Pi
	dx, dz := math.Cos(heading)*step, math.Sin(heading)*step
	if math.Hypot(b.pos.X-b.spawn.X, b.pos.Z-b.spawn.Z) > 10*step {
		dx, dz = (b.spawn.X-b.pos.X)/2, (b.spawn.Z-b.pos.Z)/2
	}
	b.pos.X += dx
	b.pos.Z += dz
	return protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		ReqID:           fmt.Sprintf("m%d", b.seq),
		X:               b.pos.X,
		Y:               b.pos.Y,
		Z:               b.pos.Z,
		Heading:         heading,
	}
}

func (b *bot) summary() {
	contained := 0
	for _, v := range b.scene {
		if v.Parent != 0 {
			contained++
		}
	}
	b.log.Info("scene",
		"known", len(b.scene),
		"contained", contained,
		"x", math.Round(b.pos.X),
		"z", math.Round(b.pos.Z),
		"creates", b.counts[protocol.TypeSceneCreate],
		"destroys", b.counts[protocol.TypeSceneDestroy],
		"moves_refused", b.refused,
	)
}
