package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"zoneserver.ai/internal/protocol"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/tuning"
	"zoneserver.ai/internal/sim/world"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 64 * 1024

	DefaultAvatarTemplate = "object/creature/player/human_male"
)

type Config struct {
	ZoneID         string
	AvatarTemplate string
	Tuning         tuning.Tuning
	TuningDigest   string
	// QueueSize bounds each session's outbound queue.
	QueueSize int
}

type Server struct {
	world   *world.World
	hub     *Hub
	factory *world.Factory
	cats    *catalogs.Catalogs
	cfg     Config
	log     *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, hub *Hub, cats *catalogs.Catalogs, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AvatarTemplate == "" {
		cfg.AvatarTemplate = DefaultAvatarTemplate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	return &Server{
		world:   w,
		hub:     hub,
		factory: world.NewFactory(cats, w.NextID),
		cats:    cats,
		cfg:     cfg,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// conn is one joined client.
type conn struct {
	id     world.SessionID
	avatar world.ObjectID
	ws     *websocket.Conn

	moves     *rate.Limiter
	transfers *rate.Limiter
}

func (c *conn) requester() world.Requester {
	return world.Requester{Session: c.id, Avatar: c.avatar}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		wsConn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer wsConn.Close()
		wsConn.SetReadLimit(maxFrame)

		hello, err := s.readHello(wsConn)
		if err != nil {
			s.log.Debug("handshake rejected", "remote", r.RemoteAddr, "err", err)
			return
		}

		avatar, err := s.factory.Create(s.cfg.AvatarTemplate)
		if err != nil {
			s.log.Error("create avatar", "template", s.cfg.AvatarTemplate, "err", err)
			_ = writeJSON(wsConn, protocol.NewError("", protocol.ErrInternal, "avatar template unavailable"))
			return
		}
		avatar.Name = hello.Name
		loc, err := s.spawnLocation(hello.Terrain)
		if err != nil {
			_ = writeJSON(wsConn, protocol.NewError("", protocol.ErrInvalidLocation, err.Error()))
			return
		}

		rl := s.cfg.Tuning.RateLimits
		c := &conn{
			id:        world.SessionID(uuid.NewString()),
			avatar:    avatar.ID,
			ws:        wsConn,
			moves:     rate.NewLimiter(rate.Limit(rl.MovesPerSecond), max(rl.MoveBurst, 1)),
			transfers: rate.NewLimiter(rate.Limit(rl.TransfersPerSecond), max(rl.TransferBurst, 1)),
		}
		if err := writeJSON(wsConn, s.welcome(c, loc.Terrain)); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, s.cfg.QueueSize)
		s.hub.register(c.id, out, func() {
			cancel()
			_ = wsConn.Close()
		})
		defer s.hub.unregister(c.id)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writeLoop(ctx, wsConn, out, cancel)
		}()

		if res := s.world.Place(avatar, 0, loc, c.id); res != world.ResultOK {
			s.log.Warn("avatar placement failed", "session", c.id, "terrain", loc.Terrain, "result", res)
			s.hub.send(c.id, protocol.NewResult("", res))
			cancel()
			<-writerDone
			return
		}
		s.log.Info("session joined", "session", c.id, "name", hello.Name, "avatar", c.avatar, "terrain", loc.Terrain)

		s.readLoop(ctx, c)
		cancel()
		<-writerDone

		s.hub.unregister(c.id)
		if res := s.world.Destroy(c.avatar); res != world.ResultOK {
			s.log.Warn("avatar cleanup", "session", c.id, "avatar", c.avatar, "result", res)
		}
		s.log.Info("session left", "session", c.id, "avatar", c.avatar)
	}
}

func (s *Server) readHello(wsConn *websocket.Conn) (protocol.HelloMsg, error) {
	_ = wsConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := wsConn.ReadMessage()
	if err != nil {
		return protocol.HelloMsg{}, err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = wsConn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return protocol.HelloMsg{}, errors.New("expected HELLO")
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(wsConn, protocol.NewError("", protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version))
		return protocol.HelloMsg{}, fmt.Errorf("bad protocol_version %q", base.ProtocolVersion)
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		_ = writeJSON(wsConn, protocol.NewError("", protocol.ErrProtoBadRequest, err.Error()))
		return protocol.HelloMsg{}, err
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return protocol.HelloMsg{}, err
	}
	hello.Name = strings.TrimSpace(hello.Name)
	return hello, nil
}

func (s *Server) welcome(c *conn, terrain string) protocol.WelcomeMsg {
	cfg := s.world.Config()
	spec, _ := cfg.Terrains.Lookup(terrain)
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       string(c.id),
		AvatarID:        uint64(c.avatar),
		ZoneParams: protocol.ZoneParams{
			ZoneID:          s.cfg.ZoneID,
			Terrain:         terrain,
			DiscoveryRadius: cfg.DiscoveryRadius,
			HalfExtent:      math.Max(spec.MaxX-spec.MinX, spec.MaxZ-spec.MinZ) / 2,
		},
		Catalogs: protocol.CatalogRefs{
			Templates:    protocol.DigestRef{Digest: s.cats.Templates.Digest, Count: len(s.cats.Templates.Palette)},
			TuningDigest: s.cfg.TuningDigest,
		},
	}
}

// spawnLocation picks a point inside one of the terrain's spawn circles.
func (s *Server) spawnLocation(terrain string) (world.Location, error) {
	cfg := s.world.Config().Terrains
	if terrain == "" {
		terrain = cfg.DefaultTerrainID
	}
	spec, ok := cfg.Lookup(terrain)
	if !ok {
		return world.Location{}, fmt.Errorf("unknown terrain %q", terrain)
	}
	if len(spec.SpawnPoints) == 0 {
		return world.Location{Terrain: spec.ID}, nil
	}
	sp := spec.SpawnPoints[rand.IntN(len(spec.SpawnPoints))]
	a := rand.Float64() * 2 * math.Pi
	d := rand.Float64() * sp.Radius
	return world.Location{
		Terrain: spec.ID,
		X:       sp.X + d*math.Cos(a),
		Z:       sp.Z + d*math.Sin(a),
		Heading: rand.Float64() * 360,
	}, nil
}

func (s *Server) writeLoop(ctx context.Context, wsConn *websocket.Conn, out <-chan []byte, cancel context.CancelFunc) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			// Flush what is already queued, e.g. a final RESULT.
			for {
				select {
				case b := <-out:
					_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
					if wsConn.WriteMessage(websocket.TextMessage, b) != nil {
						return
					}
				default:
					return
				}
			}
		case b := <-out:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
		case <-ping.C:
			if err := wsConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for ctx.Err() == nil {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.hub.send(c.id, s.handle(c, msg))
	}
}

// handle applies one client frame and returns the RESULT to send back.
func (s *Server) handle(c *conn, msg []byte) protocol.ResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(reqIDOf(msg), protocol.ErrProtoVersion, "protocol_version must be "+protocol.Version)
	}
	if err := protocol.Validate(base.Type, msg); err != nil {
		if errors.Is(err, protocol.ErrUnknownType) || base.Type == protocol.TypeHello {
			return protocol.NewError(reqIDOf(msg), protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		}
		return protocol.NewError(reqIDOf(msg), protocol.ErrProtoBadRequest, err.Error())
	}

	switch base.Type {
	case protocol.TypeMove:
		var m protocol.MoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError("", protocol.ErrProtoBadRequest, err.Error())
		}
		if !c.moves.Allow() {
			return protocol.NewError(m.ReqID, protocol.ErrRateLimit, "too many moves")
		}
		v, ok := s.world.Get(c.avatar)
		if !ok {
			return protocol.NewResult(m.ReqID, world.ResultNotFound)
		}
		loc := world.Location{Terrain: v.Loc.Terrain, X: m.X, Y: m.Y, Z: m.Z, Heading: m.Heading}
		return protocol.NewResult(m.ReqID, s.world.Reposition(c.requester(), c.avatar, loc))

	case protocol.TypeTransfer:
		var m protocol.TransferMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError("", protocol.ErrProtoBadRequest, err.Error())
		}
		if !c.transfers.Allow() {
			return protocol.NewError(m.ReqID, protocol.ErrRateLimit, "too many transfers")
		}
		var loc *world.Location
		if m.Location != nil {
			l := world.Location{Terrain: m.Location.Terrain, X: m.Location.X, Y: m.Location.Y, Z: m.Location.Z, Heading: m.Location.Heading}
			if l.Terrain == "" {
				if v, ok := s.world.Get(c.avatar); ok {
					l.Terrain = v.Loc.Terrain
				}
			}
			loc = &l
		}
		res := s.world.Transfer(c.requester(), world.ObjectID(m.ObjectID), world.ObjectID(m.ContainerID), loc)
		return protocol.NewResult(m.ReqID, res)
	}
	return protocol.NewError(reqIDOf(msg), protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
}

func reqIDOf(msg []byte) string {
	var v struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(msg, &v)
	return v.ReqID
}

func writeJSON(wsConn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsConn.WriteMessage(websocket.TextMessage, b)
}
