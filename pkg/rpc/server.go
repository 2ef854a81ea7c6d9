package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"linewire/pkg/log"
)

// DefaultMaxInFlight caps concurrently executing handlers per connection
// when ServerConfig.MaxInFlight is unset.
const DefaultMaxInFlight = 32

// Server is the daemon side of the protocol: it accepts connections, gates
// them behind an auth handshake when a token is configured, dispatches calls
// to registered handlers, and pushes notifications to every authenticated
// connection.
type Server struct {
	conf       ServerConfig
	transport  ServerTransport
	handlers   map[string]Handler
	middleware []Middleware
	subs       map[Connection]struct{}
	running    bool
	mu         sync.Mutex
}

type ServerConfig struct {
	Transport  ServerTransport
	Token      string
	ErrHandler func(error)
	Logger     log.Logger

	// MaxInFlight limits concurrently executing handlers per connection;
	// zero means DefaultMaxInFlight.
	MaxInFlight int64
}

func NewServer(conf ServerConfig) *Server {
	return &Server{
		conf:      conf,
		transport: conf.Transport,
		handlers:  make(map[string]Handler),
		subs:      make(map[Connection]struct{}),
	}
}

func (s *Server) handleError(err error) {
	s.logError("Encountered error: " + err.Error())
	if s.conf.ErrHandler != nil {
		s.conf.ErrHandler(err)
	}
}

func (s *Server) logDebug(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Debug(msg)
	}
}

func (s *Server) logInfo(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Info(msg)
	}
}

func (s *Server) logError(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Error(msg)
	}
}

// Register installs the handler for method. Registering the same method
// twice is a programming error.
func (s *Server) Register(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[method]; ok {
		panic(fmt.Sprintf("handler for method %q already registered", method))
	}
	s.handlers[method] = handler
}

// Middleware appends m to the chain applied around every handler.
func (s *Server) Middleware(m Middleware) {
	s.mu.Lock()
	s.middleware = append(s.middleware, m)
	s.mu.Unlock()
}

// Notify broadcasts a notification frame to every authenticated connection.
// Connections that fail to accept the frame are dropped from the broadcast
// set; their receive loop handles the rest of the teardown.
func (s *Server) Notify(method string, params any) {
	frame, err := json.Marshal(notification{Method: method, Params: params})
	if err != nil {
		s.handleError(fmt.Errorf("failed to serialize notification %q: %w", method, err))
		return
	}

	s.mu.Lock()
	conns := make([]Connection, 0, len(s.subs))
	for conn := range s.subs {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			s.unsubscribe(conn)
		}
	}
}

func (s *Server) subscribe(conn Connection) {
	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unsubscribe(conn Connection) {
	s.mu.Lock()
	delete(s.subs, conn)
	s.mu.Unlock()
}

func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logInfo("Starting server")

	err := s.transport.Listen()
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()

		if !running {
			break
		}

		conn, err := s.transport.Accept()
		if err != nil {
			// If the transport is closed (during shutdown), don't treat it as an error
			if err.Error() == "transport is closed" {
				break
			}
			s.handleError(err)
			continue
		}

		go s.handleConnection(conn)
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	return s.transport.Close()
}

func (s *Server) handleConnection(conn Connection) {
	defer conn.Close()
	defer s.unsubscribe(conn)

	connID := uuid.NewString()
	s.logInfo("Client connected: " + connID)

	limit := s.conf.MaxInFlight
	if limit <= 0 {
		limit = DefaultMaxInFlight
	}
	inflight := semaphore.NewWeighted(limit)

	// connections are born authenticated when no token is configured
	authenticated := s.conf.Token == ""
	if authenticated {
		s.subscribe(conn)
	}

	for {
		data, err := conn.Receive()
		if err != nil {
			if err.Error() == "connection closed" {
				s.logInfo("Client disconnected: " + connID)
			} else {
				s.handleError(err)
			}
			return
		}
		if !utf8.Valid(data) {
			continue
		}
		for _, frame := range splitFrames(data) {
			s.handleFrame(conn, frame, &authenticated, inflight)
		}
	}
}

// handleFrame processes one inbound payload. Unparseable payloads and
// payloads without a method are dropped; liveness wins over strictness.
// authenticated is owned by the connection's read loop, so no locking.
func (s *Server) handleFrame(conn Connection, frame []byte, authenticated *bool, inflight *semaphore.Weighted) {
	var msg inbound
	if err := json.Unmarshal(frame, &msg); err != nil {
		return
	}
	if msg.Method == "" {
		return
	}

	if !*authenticated {
		if msg.Method != "auth" {
			s.respondError(conn, msg.ID, "unauthorized")
			return
		}
		if !s.checkToken(msg.Params) {
			s.respondError(conn, msg.ID, "invalid token")
			return
		}
		*authenticated = true
		s.respondResult(conn, msg.ID, map[string]bool{"ok": true})
		s.subscribe(conn)
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[msg.Method]
	middleware := s.middleware
	s.mu.Unlock()

	go func() {
		if err := inflight.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer inflight.Release(1)

		if !ok {
			s.respondError(conn, msg.ID, fmt.Sprintf("unknown method: %s", msg.Method))
			return
		}

		req := &Request{Method: msg.Method, Params: msg.Params}
		result, err := ApplyHandlerChain(context.Background(), req, middleware, handler)
		if err != nil {
			s.respondError(conn, msg.ID, err.Error())
			return
		}
		s.respondResult(conn, msg.ID, result)
	}()
}

// checkToken accepts the credential either as a bare string or as
// {"token": "..."}, matching what clients have historically sent.
func (s *Server) checkToken(params json.RawMessage) bool {
	var provided string
	if err := json.Unmarshal(params, &provided); err != nil {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(params, &body); err != nil {
			return false
		}
		provided = body.Token
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.conf.Token)) == 1
}

// respondResult and respondError send the single response a call frame is
// owed. Frames without an id are notifications and get no response.

func (s *Server) respondResult(conn Connection, id *uint64, result any) {
	if id == nil {
		return
	}
	frame, err := json.Marshal(resultResponse{ID: *id, Result: result})
	if err != nil {
		frame, _ = json.Marshal(errorResponse{ID: *id, Error: errorBody{Message: "serialization failed"}})
	}
	if err := conn.Send(frame); err != nil {
		s.handleError(err)
	}
}

func (s *Server) respondError(conn Connection, id *uint64, message string) {
	if id == nil {
		return
	}
	frame, _ := json.Marshal(errorResponse{ID: *id, Error: errorBody{Message: message}})
	if err := conn.Send(frame); err != nil {
		s.handleError(err)
	}
}
