// Package server implements the WebSocket endpoint that ingests camera
// frames and inertial samples from mobile capture clients.
//
// One goroutine runs per connection (gorilla/websocket requires a single
// reader); outbound writes are serialized per connection by a mutex. All
// connections feed the single process-wide capture store, which serializes
// appends so the IMU and index logs keep arrival order. A periodic reporter
// publishes the rolling stats snapshot to registered observers.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	"github.com/phonesplat/capture/capture"
	"github.com/phonesplat/capture/logger"
	"github.com/phonesplat/capture/protocol"
)

// Default server configuration.
const (
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 8765
	DefaultMaxClients    = 32
	DefaultStatsInterval = 5 * time.Second
)

const (
	// ackEvery is the per-connection frame interval between acknowledgements.
	ackEvery = 10

	// pingInterval is how often the server pings each client.
	pingInterval = 20 * time.Second

	// pongWait is how long a connection may stay silent before its read loop
	// gives up. Any inbound message refreshes the deadline, not just pongs.
	pongWait = 30 * time.Second

	// maxMessageSize caps one inbound message: a base64 frame plus metadata.
	maxMessageSize = 10 << 20

	// writeWait is the write deadline for each outbound message.
	writeWait = 10 * time.Second

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second
)

// Drop reasons passed to OnFrameDropped observers.
const (
	DropReasonPaused      = "paused"
	DropReasonDecodeError = "decode_error"
	DropReasonWriteError  = "write_error"
)

// Option configures a [Server].
type Option func(*Server)

// WithHost sets the bind address. Default "0.0.0.0".
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithPort sets the TCP port. Port 0 picks a free port; see Addr. Default 8765.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithMaxClients caps concurrent connections; upgrades beyond the cap are
// rejected with 503 before the WebSocket handshake. Default 32.
func WithMaxClients(n int) Option {
	return func(s *Server) { s.maxClients = n }
}

// WithStatsInterval sets the period of the stats reporter. Default 5s.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) { s.statsInterval = d }
}

// Server accepts WebSocket connections from capture clients and streams
// their frames into the process-wide session store.
type Server struct {
	store *capture.Store

	host          string
	port          int
	maxClients    int
	statsInterval time.Duration

	sem      *semaphore.Weighted // connection admission
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	httpSrv  *http.Server
	running  bool

	clientsMu sync.RWMutex
	clients   map[string]*client // client_id → connection

	stopOnce sync.Once
	stopCh   chan struct{} // closed to stop the stats reporter

	obsMu          sync.RWMutex
	onConnect      []func(clientID string)
	onDisconnect   []func(clientID string)
	onFrame        []func(*protocol.FramePacket)
	onFrameDropped []func(clientID, reason string)
	onSessionStart []func(sessionID string)
	onSessionEnd   []func(sessionID string, final capture.Stats)
	onStats        []func(capture.Stats)
}

// New creates a capture server on top of the given store.
func New(store *capture.Store, opts ...Option) *Server {
	s := &Server{
		store:         store,
		host:          DefaultHost,
		port:          DefaultPort,
		maxClients:    DefaultMaxClients,
		statsInterval: DefaultStatsInterval,
		clients:       make(map[string]*client),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sem = semaphore.NewWeighted(int64(s.maxClients))
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Capture clients are native apps, not browsers; there is no origin
		// to check.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// OnConnect registers a callback invoked for every accepted connection.
func (s *Server) OnConnect(fn func(clientID string)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

// OnDisconnect registers a callback invoked when a connection goes away.
func (s *Server) OnDisconnect(fn func(clientID string)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// OnFrame registers a callback invoked for every successfully stored frame.
func (s *Server) OnFrame(fn func(*protocol.FramePacket)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onFrame = append(s.onFrame, fn)
}

// OnFrameDropped registers a callback invoked when a data message is dropped.
// Reason is one of the DropReason constants.
func (s *Server) OnFrameDropped(fn func(clientID, reason string)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onFrameDropped = append(s.onFrameDropped, fn)
}

// OnSessionStart registers a callback invoked when a capture session opens,
// whether explicitly or implicitly by the first frame.
func (s *Server) OnSessionStart(fn func(sessionID string)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onSessionStart = append(s.onSessionStart, fn)
}

// OnSessionEnd registers a callback invoked with the final stats of a
// finished session.
func (s *Server) OnSessionEnd(fn func(sessionID string, final capture.Stats)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onSessionEnd = append(s.onSessionEnd, fn)
}

// OnStats registers a callback invoked with each periodic stats snapshot.
func (s *Server) OnStats(fn func(capture.Stats)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.onStats = append(s.onStats, fn)
}

// Handler returns the http.Handler serving the WebSocket endpoint. Any path
// upgrades.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	return otelhttp.NewHandler(mux, "capture-server")
}

// Start binds the listener and begins serving in the background. A failed
// bind is returned; after a nil return the server is accepting connections
// and Addr reports the bound address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to bind %s:%d: %w", s.host, s.port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpSrv = srv
	s.running = true
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped unexpectedly", "error", err)
		}
	}()
	go s.reporterLoop()

	logger.Info("🚀 Capture server listening", "addr", ln.Addr().String())
	return nil
}

// Addr reports the address the server is listening on, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ServerInfo is a point-in-time view of the server.
type ServerInfo struct {
	Host    string        `json:"host"`
	Port    int           `json:"port"`
	Running bool          `json:"running"`
	Clients int           `json:"clients"`
	Session string        `json:"session"`
	Stats   capture.Stats `json:"stats"`
}

// Info reports the server state along with the current session and stats.
func (s *Server) Info() ServerInfo {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return ServerInfo{
		Host:    s.host,
		Port:    s.port,
		Running: running,
		Clients: s.ClientCount(),
		Session: s.store.CurrentSession(),
		Stats:   s.store.Stats(),
	}
}

// ClientCount reports the number of active connections.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast sends a message to every connected client. Send failures are
// logged per client and do not affect the others.
func (s *Server) Broadcast(v any) {
	for _, c := range s.clientList() {
		if err := c.send(v); err != nil {
			logger.Debug("Broadcast send failed", "client_id", c.id, "error", err)
		}
	}
}

// Shutdown stops the server gracefully: the stats reporter is stopped,
// connected clients get a shutdown notice and are closed, the listener
// drains, and any open session is finalized so its data reaches disk. The
// writer pool belongs to the caller and is closed after Shutdown returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.Broadcast(protocol.StatusReply{
		Type:    protocol.MessageTypeStatus,
		Message: "Server shutting down",
	})

	for _, c := range s.clientList() {
		c.close()
	}

	s.mu.Lock()
	srv := s.httpSrv
	s.running = false
	s.mu.Unlock()

	var firstErr error
	if srv != nil {
		firstErr = srv.Shutdown(ctx)
	}

	if final := s.store.End(); final.SessionID != "" {
		s.notifySessionEnd(final.SessionID, final)
	}

	return firstErr
}

func (s *Server) clientList() []*client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, c)
	}
	return list
}

func (s *Server) reporterLoop() {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reportStats()
		}
	}
}

// reportStats logs and publishes the rolling snapshot. Idle sessions with no
// frames yet stay quiet.
func (s *Server) reportStats() {
	stats := s.store.Stats()
	if stats.FrameCount == 0 {
		return
	}

	logger.StatsReport(stats.FrameCount, stats.FPS, stats.AvgLatencyMS, stats.QueueDepth, stats.TotalMB)
	s.notifyStats(stats)
}

func (s *Server) notifyConnect(clientID string) {
	s.obsMu.RLock()
	fns := s.onConnect
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(clientID) })
	}
}

func (s *Server) notifyDisconnect(clientID string) {
	s.obsMu.RLock()
	fns := s.onDisconnect
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(clientID) })
	}
}

func (s *Server) notifyFrame(p *protocol.FramePacket) {
	s.obsMu.RLock()
	fns := s.onFrame
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(p) })
	}
}

func (s *Server) notifyFrameDropped(clientID, reason string) {
	s.obsMu.RLock()
	fns := s.onFrameDropped
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(clientID, reason) })
	}
}

func (s *Server) notifySessionStart(sessionID string) {
	s.obsMu.RLock()
	fns := s.onSessionStart
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(sessionID) })
	}
}

func (s *Server) notifySessionEnd(sessionID string, final capture.Stats) {
	s.obsMu.RLock()
	fns := s.onSessionEnd
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(sessionID, final) })
	}
}

func (s *Server) notifyStats(stats capture.Stats) {
	s.obsMu.RLock()
	fns := s.onStats
	s.obsMu.RUnlock()
	for _, fn := range fns {
		runObserver(func() { fn(stats) })
	}
}

// runObserver invokes one observer callback, recovering a panic so a broken
// observer cannot take down the connection that triggered it.
func runObserver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Observer panicked", "panic", r)
		}
	}()
	fn()
}

// nowSec is the wall clock as float seconds, the unit client timestamps use.
func nowSec() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
