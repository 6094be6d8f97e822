// Package monitor publishes campaign progress while it runs.
//
// Server broadcasts JSON messages to WebSocket clients on /ws. Observer
// turns campaign events into messages, and Watcher tails a result stream
// written by another process so its rows can be followed too.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names the event a message carries.
type MessageType string

const (
	// MessageTypeCampaignStarted is sent when a campaign begins.
	MessageTypeCampaignStarted MessageType = "campaign_started"

	// MessageTypeRunStarted is sent before a run executes.
	MessageTypeRunStarted MessageType = "run_started"

	// MessageTypeRunFinished is sent when a run succeeded, failed or was
	// skipped.
	MessageTypeRunFinished MessageType = "run_finished"

	// MessageTypeCampaignFinished is sent with the campaign summary.
	MessageTypeCampaignFinished MessageType = "campaign_finished"

	// MessageTypeRow is sent for each row appended to a watched stream.
	MessageTypeRow MessageType = "row"

	// MessageTypeProgress carries the progress of every known campaign.
	// New clients receive one on connect.
	MessageTypeProgress MessageType = "progress"
)

// Message is one broadcast, sent as a JSON text frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a message of type t.
func NewMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s message: %w", t, err)
	}
	return Message{Type: t, Timestamp: time.Now(), Data: raw}, nil
}

// writeTimeout bounds a single frame write to a client.
const writeTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	// Port to listen on. Zero picks a free port.
	Port int

	// Host restricts the listening interface. Empty listens on all of them.
	Host string

	// OriginPatterns lists the browser origins allowed besides the server's
	// own, as host patterns (e.g. "grafana.lab:3000"). Clients sending no
	// Origin header, such as command line tools, are always accepted.
	OriginPatterns []string

	// QueueSize is the number of messages buffered per client before the
	// client is dropped as too slow. Defaults to 64.
	QueueSize int

	Logger *log.Logger
}

// client is one WebSocket connection with its own send queue, drained by
// a dedicated goroutine.
type client struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// Server broadcasts monitor messages to WebSocket clients on /ws.
type Server struct {
	addr      string
	origins   []string
	queueSize int
	listener  net.Listener
	server    *http.Server

	mu       sync.Mutex
	clients  map[*client]struct{}
	snapshot func() (Message, bool)
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer returns a server that is not listening yet.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		origins:   cfg.OriginPatterns,
		queueSize: queueSize,
		clients:   make(map[*client]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// SetSnapshot installs the function producing the message sent to newly
// connected clients.
func (s *Server) SetSnapshot(fn func() (Message, bool)) {
	s.mu.Lock()
	s.snapshot = fn
	s.mu.Unlock()
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Monitor listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	// Client goroutines watch ctx and close their connection.
	s.cancel()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down monitor: %w", serr)
		}
	}
	s.wg.Wait()
	return err
}

// Broadcast sends msg to every connected client. A client whose queue is
// full is dropped so a stalled reader never slows the campaign down.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Warning: failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Printf("Warning: dropping client %s, %d messages behind", c.addr, s.queueSize)
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Printf("Rejected client %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, addr: r.RemoteAddr, send: make(chan []byte, s.queueSize)}

	s.mu.Lock()
	snapshot := s.snapshot
	s.mu.Unlock()
	// Called unlocked: the snapshot source may be broadcasting itself.
	if snapshot != nil {
		if msg, ok := snapshot(); ok {
			if data, err := json.Marshal(msg); err == nil {
				c.send <- data
			}
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "monitor stopping")
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(1)
	s.mu.Unlock()
	s.logger.Printf("Client %s connected (total: %d)", c.addr, count)

	// Client frames are discarded; ctx ends when the client goes away.
	go s.serve(conn.CloseRead(s.ctx), c)
}

// serve drains the queue of c until the client leaves, the server stops
// or Broadcast drops the client.
func (s *Server) serve(ctx context.Context, c *client) {
	defer s.wg.Done()

	status, reason := websocket.StatusGoingAway, "monitor stopping"
	defer func() {
		s.remove(c)
		_ = c.conn.Close(status, reason)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				status, reason = websocket.StatusPolicyViolation, "client too slow"
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Printf("Failed to send to client %s: %v", c.addr, err)
				return
			}
		}
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.logger.Printf("Client %s disconnected (total: %d)", c.addr, len(s.clients))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the listening address, which carries the real port when
// Config.Port was zero.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
