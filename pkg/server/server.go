// Package server exposes the streaming API: a WebSocket endpoint for live
// sessions and a small HTTP surface for track listing, single-chunk pulls
// and runtime stats.
package server

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/cache"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/protocol"
	"github.com/jfelder/masterstream/pkg/session"
	"github.com/jfelder/masterstream/pkg/track"
)

// Server wires the HTTP/WebSocket surface to the cache and processor.
type Server struct {
	app  *fiber.App
	addr string

	store     track.Store
	cache     *cache.TierCache
	prefetch  *cache.Prefetcher
	proc      *processor.Processor
	procCfg   processor.Config
	sessCfg   session.Config
	startedAt time.Time

	mu       sync.Mutex
	sessions map[string]*clientConn // keyed by client ID
}

// clientConn pairs a live websocket with its session so a reconnecting
// client can supersede its old stream.
type clientConn struct {
	sess *session.Session
	conn *websocket.Conn
}

// New assembles the server. Start runs it; Shutdown stops it.
func New(addr string, store track.Store, c *cache.TierCache, pf *cache.Prefetcher, proc *processor.Processor, procCfg processor.Config, sessCfg session.Config) *Server {
	s := &Server{
		addr:      addr,
		store:     store,
		cache:     c,
		prefetch:  pf,
		proc:      proc,
		procCfg:   procCfg,
		sessCfg:   sessCfg,
		startedAt: time.Now(),
		sessions:  make(map[string]*clientConn),
	}

	app := fiber.New(fiber.Config{
		AppName:               "masterstream",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/tracks", s.handleTracks)
	api.Get("/presets", s.handlePresets)
	api.Get("/chunk", s.handleChunk)
	api.Get("/stats", s.handleStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/stream", websocket.New(s.handleStream))

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	log.Info("server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown closes every live session, then the listener.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.sessions))
	for _, cc := range s.sessions {
		conns = append(conns, cc)
	}
	s.sessions = make(map[string]*clientConn)
	s.mu.Unlock()

	for _, cc := range conns {
		cc.sess.Close()
		cc.conn.Close()
	}
	return s.app.Shutdown()
}

// SessionCount returns the number of live websocket sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// handleStream owns one websocket connection for its lifetime. A client
// reconnecting under the same client ID supersedes its previous session.
func (s *Server) handleStream(c *websocket.Conn) {
	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}

	sender := &wsSender{conn: c}
	sess := session.New(sender, s.store, s.cache, s.prefetch, s.procCfg, s.sessCfg)

	s.mu.Lock()
	if prev, ok := s.sessions[clientID]; ok {
		log.Info("session superseded", "client", clientID, "session", prev.sess.ID)
		prev.sess.Close()
		prev.conn.Close()
	}
	s.sessions[clientID] = &clientConn{sess: sess, conn: c}
	s.mu.Unlock()

	log.Info("client connected", "client", clientID, "session", sess.ID)

	defer func() {
		s.mu.Lock()
		if cur, ok := s.sessions[clientID]; ok && cur.sess == sess {
			delete(s.sessions, clientID)
		}
		s.mu.Unlock()
		sess.Close()
		log.Info("client disconnected", "client", clientID, "session", sess.ID)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			log.Warn("unparseable message", "client", clientID, "err", err)
			continue
		}
		sess.HandleMessage(msg)
	}
}

// wsSender serializes writes to one websocket connection. The delivery
// loop, the ping loop and control replies all share it.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
