package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenkind/sona/pkg/continuity"
	"github.com/lumenkind/sona/pkg/model"
	"github.com/lumenkind/sona/pkg/session"
)

// Config wires the relay server.
type Config struct {
	Orchestrator *session.Orchestrator
	Continuity   *continuity.Engine

	// Dialer opens model streams per session. Nil runs the relay without
	// a model: the feature pipeline and state machine still work from
	// local audio.
	Dialer model.Dialer

	// FrameInterval is the render cadence for feature frames. Defaults to
	// one frame per 1/60 s.
	FrameInterval time.Duration

	// SampleRate of client microphone audio in Hz. Defaults to 24000,
	// matching the model's input format.
	SampleRate int

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Orchestrator == nil {
		return fmt.Errorf("relay: orchestrator is required")
	}
	if c.Continuity == nil {
		return fmt.Errorf("relay: continuity engine is required")
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = time.Second / 60
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 24000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Server upgrades HTTP requests to websocket connections and runs one
// conn per client.
type Server struct {
	cfg      Config
	log      *slog.Logger
	upgrader websocket.Upgrader

	// connMu guards conns, the live session to connection mapping used to
	// pair WebRTC offers with their websocket session.
	connMu sync.Mutex
	conns  map[string]*conn
}

// NewServer creates a relay server.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay fronts browser clients on other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}, nil
}

func (s *Server) register(sessionID string, c *conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[sessionID] = c
}

func (s *Server) deregister(sessionID string, c *conn) {
	if sessionID == "" {
		return
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns[sessionID] == c {
		delete(s.conns, sessionID)
	}
}

func (s *Server) lookup(sessionID string) *conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conns[sessionID]
}

// OfferRequest pairs a browser SDP offer with an active session.
type OfferRequest struct {
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

// OfferAnswer carries the SDP answer back to the browser.
type OfferAnswer struct {
	SDP string `json:"sdp"`
}

// OfferHandler returns the HTTP handler for WebRTC microphone offers.
// The offer must reference a session started over the websocket; decoded
// audio then feeds that connection's pipeline instead of binary websocket
// frames.
func (s *Server) OfferHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req OfferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.SDP == "" {
			http.Error(w, "invalid offer", http.StatusBadRequest)
			return
		}
		c := s.lookup(req.SessionID)
		if c == nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		answer, err := c.attachIngress(req.SDP)
		if err != nil {
			s.log.Error("webrtc offer failed", "session", req.SessionID, "error", err)
			http.Error(w, "offer failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(OfferAnswer{SDP: answer})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c, err := newConn(ws, s)
	if err != nil {
		s.log.Error("connection setup failed", "error", err)
		return
	}
	s.log.Info("client connected", "remote", ws.RemoteAddr().String())
	c.run(r.Context())
	s.log.Info("client disconnected", "remote", ws.RemoteAddr().String())
}
