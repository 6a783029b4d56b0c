// Package gateway serves the conversational WebSocket transport and the
// admin HTTP API.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/soyeahso/flowbot/internal/config"
	"github.com/soyeahso/flowbot/internal/domain"
	"github.com/soyeahso/flowbot/internal/flow"
	"github.com/soyeahso/flowbot/internal/hooks"
	"github.com/soyeahso/flowbot/internal/logging"
	"github.com/soyeahso/flowbot/internal/metric"
	"github.com/soyeahso/flowbot/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// Frame texts sent to end users.
const (
	msgNoFlow       = "No chatbot configuration found"
	msgInvalidFrame = "Invalid message format. Expected JSON."
	msgInitFailed   = "Failed to initialize chatbot flow"
	msgTurnFailed   = "Failed to process message"
	msgRateLimited  = "Too many messages. Please slow down."
)

// Server is the flowbot HTTP + WebSocket server.
type Server struct {
	cfg      config.GatewayConfig
	log      *logging.Logger
	clients  *ClientRegistry
	version  string
	engine   *flow.Engine
	flows    flow.ConfigStore
	sessions flow.SessionStore

	// optional
	metrics *metric.Metrics
	hooks   *hooks.Manager

	startedAt  time.Time
	mu         sync.Mutex
	addr       string
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithStores sets where flows and sessions live. Without it the server keeps
// both in memory.
func WithStores(flows flow.ConfigStore, sessions flow.SessionStore) ServerOption {
	return func(s *Server) {
		s.flows = flows
		s.sessions = sessions
	}
}

// WithEngine sets the flow engine. It must share the session store passed to
// WithStores.
func WithEngine(e *flow.Engine) ServerOption {
	return func(s *Server) {
		s.engine = e
	}
}

// WithMetrics exposes collectors on /metrics and records gateway metrics.
func WithMetrics(m *metric.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log.Sub("gateway"),
		clients: NewClientRegistry(log.Sub("clients")),
		version: version.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.flows == nil {
		s.flows = flow.NewMemoryConfigStore()
	}
	if s.sessions == nil {
		s.sessions = flow.NewMemorySessionStore()
	}
	if s.engine == nil {
		s.engine = flow.NewEngine(s.sessions, nil, log, flow.WithMetrics(s.metrics))
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	port := cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", port)
	}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info().
		Str("addr", s.Addr()).
		Str("bind", s.cfg.Bind).
		Str("version", s.version).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.Payload{Event: hooks.EventGatewayStart, Addr: s.Addr()})

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.WithoutCancel(ctx), hooks.Payload{Event: hooks.EventGatewayStop, Addr: s.Addr()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.MessageRate <= 0 {
		return nil
	}
	burst := s.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessageRate), burst)
}

// handleWebSocket upgrades HTTP to WebSocket and runs the conversation loop.
// ?session=<id> reattaches to an existing session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	resume := sessionID != ""
	if !resume {
		sessionID = uuid.New().String()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	readLimit := s.cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = config.DefaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	client := NewClient(conn, sessionID, s.newLimiter(), s.log.Sub("ws"))
	s.clients.Add(client)
	s.metrics.ConnectionOpened()
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
		s.metrics.ConnectionClosed()
		s.hooks.EmitAsync(r.Context(), hooks.Payload{Event: hooks.EventSessionEnd, SessionID: sessionID})
	}()

	// Turns commit even if the peer goes away mid-step.
	ctx := context.WithoutCancel(r.Context())

	s.hooks.EmitAsync(ctx, hooks.Payload{Event: hooks.EventSessionStart, SessionID: sessionID, Resumed: resume})
	resp, started := s.open(ctx, client, resume)
	s.send(ctx, client, resp)
	s.readLoop(ctx, client, resume, started)
}

// open runs the first turn of a connection and reports whether the flow
// started. Without an active flow it answers no_flow and the connection
// stays unstarted.
func (s *Server) open(ctx context.Context, client *Client, resume bool) (domain.Response, bool) {
	f, err := s.flows.ActiveFlow(ctx)
	if errors.Is(err, domain.ErrNoFlow) {
		return domain.ErrorResponse(domain.CodeNoFlow, msgNoFlow), false
	}
	if err != nil {
		client.log.Error().Err(err).Str("session", client.SessionID).Msg("load active flow")
		return domain.ErrorResponse(domain.CodeInternal, msgInitFailed), false
	}

	var resp domain.Response
	if resume {
		resp, err = s.engine.Resume(ctx, f, client.SessionID)
	} else {
		resp, err = s.engine.Start(ctx, f, client.SessionID)
	}
	if err != nil {
		client.log.Error().Err(err).Str("session", client.SessionID).Msg("start flow")
		return domain.ErrorResponse(domain.CodeInternal, msgInitFailed), false
	}
	return resp, true
}

// readLoop feeds inbound frames to the engine until the connection drops.
// On an unstarted connection each frame retries open instead, so a flow
// posted after the client connected takes effect without a reconnect.
func (s *Server) readLoop(ctx context.Context, client *Client, resume, started bool) {
	for {
		data, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log.Debug().Msg("client closed connection")
			} else {
				client.log.Debug().Err(err).Msg("read ended")
			}
			return
		}

		if !client.Allow() {
			s.metrics.RecordRejectedFrame("rate_limited")
			s.send(ctx, client, domain.ErrorResponse(domain.CodeRateLimited, msgRateLimited))
			continue
		}

		in, err := domain.ParseInbound(data)
		if err != nil {
			s.metrics.RecordRejectedFrame("invalid_json")
			s.send(ctx, client, domain.ErrorResponse(domain.CodeInvalidFrame, msgInvalidFrame))
			continue
		}

		s.emitSessionEvent(ctx, hooks.Payload{Event: hooks.EventMessageReceived, SessionID: client.SessionID})

		if !started {
			var resp domain.Response
			resp, started = s.open(ctx, client, resume)
			s.send(ctx, client, resp)
			continue
		}
		s.send(ctx, client, s.turn(ctx, client, in))
	}
}

func (s *Server) turn(ctx context.Context, client *Client, in domain.Inbound) domain.Response {
	f, err := s.flows.ActiveFlow(ctx)
	if errors.Is(err, domain.ErrNoFlow) {
		return domain.ErrorResponse(domain.CodeNoFlow, msgNoFlow)
	}
	if err != nil {
		client.log.Error().Err(err).Str("session", client.SessionID).Msg("load active flow")
		return domain.ErrorResponse(domain.CodeInternal, msgTurnFailed)
	}

	resp, err := s.engine.Receive(ctx, f, client.SessionID, in)
	if err != nil {
		client.log.Error().Err(err).Str("session", client.SessionID).Msg("process message")
		return domain.ErrorResponse(domain.CodeInternal, msgTurnFailed)
	}
	return resp
}

func (s *Server) send(ctx context.Context, client *Client, resp domain.Response) {
	s.emitSessionEvent(ctx, hooks.Payload{
		Event:     hooks.EventMessageSending,
		SessionID: client.SessionID,
		Type:      string(resp.Type),
		Code:      resp.Code,
	})
	if err := client.Send(resp); err != nil && !errors.Is(err, ErrClientClosed) {
		client.log.Debug().Err(err).Msg("send failed")
	}
}

// emitSessionEvent fills in the session's current block and fires p. The
// lookup only happens when a handler listens for the event.
func (s *Server) emitSessionEvent(ctx context.Context, p hooks.Payload) {
	if !s.hooks.Has(p.Event) {
		return
	}
	if sess, err := s.sessions.Get(ctx, p.SessionID); err == nil {
		p.BlockID = sess.CurrentBlockID
	}
	s.hooks.EmitAsync(ctx, p)
}
