package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hivemesh/swarmcore/internal/errs"
	"github.com/hivemesh/swarmcore/pkg/id"
)

// ProtocolVersion is the server's advertised wire version (spec §6).
const ProtocolVersion = "1.0"

// SupportedVersions lists every version this server accepts.
var SupportedVersions = []string{"1.0"}

// Conn abstracts the wire socket the server reads/writes frames over.
// *websocket.Conn satisfies this, letting the core transport logic be
// exercised without a live network connection in tests.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Authenticator validates a client's auth token and metadata. A nil
// Authenticator auto-authenticates every connection (spec §4.F).
type Authenticator func(token string, metadata map[string]interface{}) (bool, error)

// Middleware inspects a publish before delivery; returning false drops
// the message with a publish-blocked signal.
type Middleware func(topic string, data interface{}) bool

// Config configures a Server (spec §6's transport configuration surface).
type Config struct {
	HeartbeatInterval         time.Duration
	AuthTimeout               time.Duration
	MaxConnections            int
	RateLimitMaxMessages      int
	RateLimitWindow           time.Duration
	QueueSize                 int
	MaxSubscriptionsPerClient int
	EnablePatterns            bool
	Authenticate              Authenticator
}

// DefaultConfig returns spec §4.F/§6's stated defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:         30 * time.Second,
		AuthTimeout:               10 * time.Second,
		MaxConnections:            10000,
		RateLimitMaxMessages:      100,
		RateLimitWindow:           time.Second,
		QueueSize:                 deliveryQueueDefaultCapacity,
		MaxSubscriptionsPerClient: 100,
		EnablePatterns:            true,
	}
}

// Metrics are the audit/metric hooks for the transport.
type Metrics struct {
	MessagesPublished prometheus.Counter
	MessagesDropped   prometheus.Counter
	ClientsConnected  prometheus.Counter
}

// NewMetrics builds and optionally registers the transport metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{Name: "messages_published_total", Help: "Total publishes accepted."}),
		MessagesDropped:   prometheus.NewCounter(prometheus.CounterOpts{Name: "messages_dropped_total", Help: "Total events dropped by backpressure."}),
		ClientsConnected:  prometheus.NewCounter(prometheus.CounterOpts{Name: "clients_connected_total", Help: "Total client connections accepted."}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesPublished, m.MessagesDropped, m.ClientsConnected)
	}
	return m
}

// Server is the pub/sub transport core of spec §4.F.
type Server struct {
	cfg     Config
	router  *Router
	metrics *Metrics
	log     zerolog.Logger

	mu         sync.Mutex
	clients    map[string]*Client
	middleware []Middleware
	sequences  map[string]*uint64 // per-topic monotonic sequence numbers

	accepting atomic.Bool
}

// NewServer creates a Server. A zero Config is replaced with DefaultConfig.
func NewServer(cfg Config, metrics *Metrics, log zerolog.Logger) *Server {
	if cfg.HeartbeatInterval == 0 {
		cfg = DefaultConfig()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	srv := &Server{
		cfg:       cfg,
		router:    NewRouter(),
		metrics:   metrics,
		log:       log,
		clients:   make(map[string]*Client),
		sequences: make(map[string]*uint64),
	}
	srv.accepting.Store(true)
	return srv
}

// Use registers a publish middleware, run in registration order.
func (s *Server) Use(mw Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, mw)
}

func (s *Server) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HandleConn runs the full per-connection lifecycle: version handshake,
// auth deadline, registration, the read loop, and heartbeat — until the
// connection closes or ctx is cancelled. It blocks the calling goroutine,
// matching the "every long-running component runs on its own
// cooperatively-yielding task" model of spec §5.
func (s *Server) HandleConn(ctx context.Context, conn Conn) error {
	if !s.accepting.Load() {
		_ = conn.WriteJSON(s.errorFrame("", CodeInternalError, "going away"))
		return conn.Close()
	}
	if s.connectionCount() >= s.cfg.MaxConnections {
		_ = conn.WriteJSON(s.errorFrame("", CodeInternalError, "policy violation"))
		return conn.Close()
	}

	hello := newEnvelope(id.New("msg"), TypeVersion)
	hello.Version = ProtocolVersion
	hello.Supported = SupportedVersions
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send version handshake: %w", err)
	}

	client := newClient(id.New("client"), s.cfg.QueueSize, s.cfg.RateLimitMaxMessages, s.cfg.RateLimitWindow,
		func() {
			if s.metrics != nil {
				s.metrics.MessagesDropped.Inc()
			}
		},
		func(m Message) error { return conn.WriteJSON(m) },
		conn.Close,
	)

	if s.cfg.Authenticate == nil {
		client.Authenticated = true
	} else if err := s.awaitAuth(ctx, conn, client); err != nil {
		return err
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ClientsConnected.Inc()
	}
	defer s.removeClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.heartbeatLoop(ctx, conn, client)

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			return err
		}
		if err := s.handleMessage(conn, client, m); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (s *Server) awaitAuth(ctx context.Context, conn Conn, client *Client) error {
	deadline := time.Now().Add(s.cfg.AuthTimeout)
	authCh := make(chan error, 1)
	go func() {
		for time.Now().Before(deadline) {
			var m Message
			if err := conn.ReadJSON(&m); err != nil {
				authCh <- err
				return
			}
			if m.Type != TypeAuth {
				continue
			}
			metadata := m.Metadata
			if metadata == nil {
				metadata = make(map[string]interface{})
			}
			ok, err := s.cfg.Authenticate(m.Token, metadata)
			if err != nil || !ok {
				authCh <- fmt.Errorf("%w", errs.ErrAuthenticationFailed)
				return
			}
			client.Authenticated = true
			client.Metadata = metadata
			authCh <- nil
			return
		}
		authCh <- fmt.Errorf("%w: authentication timeout", errs.ErrTimeout)
	}()

	select {
	case err := <-authCh:
		if err != nil {
			_ = conn.WriteJSON(s.errorFrame("", CodeAuthenticationFailed, "Authentication timeout"))
			_ = conn.Close()
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	s.router.UnsubscribeAll(c.ID)
}

func (s *Server) heartbeatLoop(ctx context.Context, conn Conn, client *Client) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.sinceLastPing() > 2*s.cfg.HeartbeatInterval {
				_ = conn.WriteJSON(s.errorFrame("", CodeInternalError, "Heartbeat timeout"))
				_ = conn.Close()
				return
			}
			ping := newEnvelope(id.New("msg"), TypePing)
			_ = conn.WriteJSON(ping)
		}
	}
}

func (s *Server) errorFrame(code, code2, msg string) Message {
	m := newEnvelope(id.New("msg"), TypeError)
	if code != "" {
		m.Code = code
	} else {
		m.Code = code2
	}
	m.ErrorMessage = msg
	return m
}

func (s *Server) handleMessage(conn Conn, client *Client, m Message) error {
	if !client.limiter.Allow() {
		return conn.WriteJSON(s.errorFrame("", CodeRateLimitExceeded, "rate limit exceeded"))
	}
	switch m.Type {
	case TypePing:
		client.touchPing()
		pong := newEnvelope(id.New("msg"), TypePong)
		pong.Latency = now() - m.Timestamp
		return conn.WriteJSON(pong)
	case TypePong:
		client.touchPing()
		return nil
	case TypeSubscribe:
		return s.handleSubscribe(conn, client, m)
	case TypeUnsubscribe:
		for _, topic := range m.Topics {
			s.router.Unsubscribe(client.ID, topic)
			client.removeSubscription(topic)
		}
		return conn.WriteJSON(s.ackFrame(m.ID, true))
	case TypePublish:
		if hasMixedDelimiters(m.Topic) {
			return conn.WriteJSON(s.errorFrame("", CodeInvalidParams, "mixed delimiters in topic"))
		}
		_, err := s.Publish(m.Topic, m.Data, client.ID, m.Broadcast)
		if err != nil {
			return conn.WriteJSON(s.errorFrame("", CodeInternalError, err.Error()))
		}
		return conn.WriteJSON(s.ackFrame(m.ID, true))
	default:
		return conn.WriteJSON(s.errorFrame("", CodeInvalidMessage, "unknown message type"))
	}
}

func (s *Server) handleSubscribe(conn Conn, client *Client, m Message) error {
	for _, topic := range m.Topics {
		if !s.cfg.EnablePatterns && isPattern(topic) {
			return conn.WriteJSON(s.errorFrame("", CodeInvalidParams, "patterns disabled"))
		}
		if client.subscriptionCount()+1 > s.cfg.MaxSubscriptionsPerClient {
			return conn.WriteJSON(s.errorFrame("", CodeSubscriptionLimit, "subscription limit exceeded"))
		}
		s.router.Subscribe(client.ID, topic)
		client.addSubscription(topic)
	}
	return conn.WriteJSON(s.ackFrame(m.ID, true))
}

func (s *Server) ackFrame(messageID string, success bool) Message {
	m := newEnvelope(id.New("msg"), TypeAck)
	m.MessageID = messageID
	m.Success = success
	return m
}

func (s *Server) nextSequence(topic string) uint64 {
	s.mu.Lock()
	ptr, ok := s.sequences[topic]
	if !ok {
		var zero uint64
		ptr = &zero
		s.sequences[topic] = ptr
	}
	s.mu.Unlock()
	return atomic.AddUint64(ptr, 1)
}

// Subscribe registers an in-process subscriberID for topic directly in
// the router, bypassing the Conn-backed client registry. It lets
// non-websocket callers (the channel facade) share the same routing
// and delivery path as wire clients.
func (s *Server) Subscribe(subscriberID, topic string) {
	s.router.Subscribe(subscriberID, topic)
}

// Unsubscribe removes subscriberID's registration for topic.
func (s *Server) Unsubscribe(subscriberID, topic string) {
	s.router.Unsubscribe(subscriberID, topic)
}

// Recipients exposes the router's recipient resolution for topic.
func (s *Server) Recipients(topic string) map[string]struct{} {
	return s.router.Recipients(topic)
}

// Publish runs registered middleware, assigns the next per-topic
// sequence number, and delivers to the union of exact and pattern
// subscribers, excluding publisherID unless broadcast is true.
func (s *Server) Publish(topic string, data interface{}, publisherID string, broadcast bool) (uint64, error) {
	s.mu.Lock()
	mws := append([]Middleware(nil), s.middleware...)
	s.mu.Unlock()
	for _, mw := range mws {
		if !mw(topic, data) {
			return 0, fmt.Errorf("publish blocked by middleware")
		}
	}

	seq := s.nextSequence(topic)
	evt := newEnvelope(id.New("msg"), TypeEvent)
	evt.Topic = topic
	evt.Data = data
	evt.SequenceNumber = seq

	recipients := s.router.Recipients(topic)
	s.mu.Lock()
	defer s.mu.Unlock()
	for clientID := range recipients {
		if clientID == publisherID && !broadcast {
			continue
		}
		if c, ok := s.clients[clientID]; ok {
			c.deliver(evt)
		}
	}
	if s.metrics != nil {
		s.metrics.MessagesPublished.Inc()
	}
	return seq, nil
}

// StopAccepting rejects every new connection from this point on with
// "going away", without disturbing already-registered clients. The
// Supervisor calls this first in its graceful shutdown sequence (spec
// §4.L) so in-flight publishes still have somewhere to drain to.
func (s *Server) StopAccepting() {
	s.accepting.Store(false)
}

// pendingDeliveries sums the queue depth across every connected client.
func (s *Server) pendingDeliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.clients {
		total += c.queue.len()
	}
	return total
}

// Shutdown stops accepting new clients, waits up to grace for already
// queued publishes to drain, then force-closes every remaining client
// socket with a "going away" error frame (spec §4.L).
func (s *Server) Shutdown(ctx context.Context, grace time.Duration) error {
	s.StopAccepting()

	deadline := time.Now().Add(grace)
	for s.pendingDeliveries() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-time.After(20 * time.Millisecond):
		}
	}

	s.mu.Lock()
	remaining := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		remaining = append(remaining, c)
	}
	s.mu.Unlock()

	for _, c := range remaining {
		_ = c.send(s.errorFrame("", CodeInternalError, "going away"))
		_ = c.Close()
		s.removeClient(c)
	}
	return nil
}
