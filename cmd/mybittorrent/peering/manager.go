package peering

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/config"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dialer opens transports to peers. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type options struct {
	logger  *zap.Logger
	dialer  Dialer
	limiter *rate.Limiter
}

// Option configures a Manager. A Client passes its options on to the
// Manager it starts.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithDialLimiter paces outgoing connection attempts. It overrides
// cfg.DialRate.
func WithDialLimiter(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

func buildOptions(cfg *config.Config, opts []Option) options {
	o := options{
		logger:  zap.L(),
		dialer:  &net.Dialer{},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.DialRate > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.DialRate), 1)
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Manager runs one conversation per connected peer and fans every inbound
// message into a single stream. Messages from one peer arrive in wire order;
// nothing is promised about the interleaving of different peers.
type Manager struct {
	descriptor *metainfo.Descriptor
	cfg        *config.Config
	peerID     [20]byte
	logger     *zap.Logger
	dialer     Dialer
	limiter    *rate.Limiter

	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan Event
	wg      sync.WaitGroup

	mu            sync.Mutex
	nextID        PeerID
	conversations map[PeerID]*conversation
	pending       int
	// changed is closed and replaced whenever conversations or pending change.
	changed chan struct{}
}

type conversation struct {
	id       PeerID
	addr     Peer
	remoteID [20]byte
	wire     *Wire
	outbound chan Message
	done     chan struct{}
	stopOnce sync.Once
}

func (c *conversation) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wire.Close()
	})
}

func (c *conversation) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func NewManager(d *metainfo.Descriptor, cfg *config.Config, opts ...Option) *Manager {
	o := buildOptions(cfg, opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		descriptor:    d,
		cfg:           cfg,
		peerID:        cfg.PeerIDBytes(),
		logger:        o.logger,
		dialer:        o.dialer,
		limiter:       o.limiter,
		ctx:           ctx,
		cancel:        cancel,
		inbound:       make(chan Event, cfg.InboundBuffer),
		conversations: make(map[PeerID]*conversation),
		changed:       make(chan struct{}),
	}
}

// Connect attempts every peer concurrently and returns how many completed
// the handshake. Failed peers are logged and skipped.
func (m *Manager) Connect(ctx context.Context, peers []Peer) int {
	if err := m.beginPending(len(peers)); err != nil {
		m.logger.Warn("Connect on closed manager", zap.Error(err))
		return 0
	}

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for _, peer := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.dialAndAttach(ctx, peer); err != nil {
				m.logger.Debug("Skipping peer", zap.Stringer("peer", peer), zap.Error(err))
				return
			}
			accepted.Add(1)
		}()
	}
	wg.Wait()

	m.logger.Info("Connected to swarm",
		zap.Stringer("info_hash", m.descriptor.InfoHash),
		zap.Int("candidates", len(peers)),
		zap.Int64("accepted", accepted.Load()))
	return int(accepted.Load())
}

// Add dials a single peer and starts its conversation. It may be called while
// messages are being consumed.
func (m *Manager) Add(ctx context.Context, peer Peer) (PeerID, error) {
	if err := m.beginPending(1); err != nil {
		return 0, err
	}
	return m.dialAndAttach(ctx, peer)
}

// Attach performs the handshake over an already open transport and starts
// its conversation. On failure conn is closed. Until the handshake settles
// the peer counts as pending, so Next keeps waiting for it.
func (m *Manager) Attach(conn net.Conn, peer Peer) (PeerID, error) {
	if err := m.beginPending(1); err != nil {
		conn.Close()
		return 0, err
	}
	return m.attach(conn, peer)
}

func (m *Manager) dialAndAttach(ctx context.Context, peer Peer) (PeerID, error) {
	conn, err := m.dial(ctx, peer)
	if err != nil {
		m.finishPending()
		return 0, err
	}
	return m.attach(conn, peer)
}

func (m *Manager) dial(ctx context.Context, peer Peer) (net.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting to dial %s: %w", peer, err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancelDial()
	conn, err := m.dialer.DialContext(dialCtx, "tcp", peer.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer %s: %w", peer, err)
	}
	return conn, nil
}

// attach releases one pending slot taken by the caller, whatever the outcome.
func (m *Manager) attach(conn net.Conn, peer Peer) (PeerID, error) {
	remote, err := m.handshake(conn)
	if err != nil {
		conn.Close()
		m.finishPending()
		return 0, fmt.Errorf("handshake with %s: %w", peer, err)
	}

	m.mu.Lock()
	m.pending--
	if m.ctx.Err() != nil {
		m.notifyLocked()
		m.mu.Unlock()
		conn.Close()
		return 0, ErrManagerClosed
	}
	m.nextID++
	c := &conversation{
		id:       m.nextID,
		addr:     peer,
		remoteID: remote.PeerID,
		wire:     NewWire(conn, m.cfg.IdleTimeout, m.cfg.IdleTimeout),
		outbound: make(chan Message, m.cfg.OutboundQueue),
		done:     make(chan struct{}),
	}
	m.conversations[c.id] = c
	m.wg.Add(1)
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Debug("Peer connected",
		zap.Uint64("id", uint64(c.id)),
		zap.Stringer("peer", peer),
		zap.Binary("remote_peer_id", remote.PeerID[:]))
	go m.run(c)
	return c.id, nil
}

func (m *Manager) handshake(conn net.Conn) (*Handshake, error) {
	if err := conn.SetDeadline(time.Now().Add(m.cfg.HandshakeTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(BuildHandshake(m.descriptor, m.peerID)); err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	remote, err := ValidateHandshake(conn, m.descriptor.InfoHash)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return remote, nil
}

func (m *Manager) run(c *conversation) {
	defer m.wg.Done()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.write(c)
	}()

	m.read(c)
	c.stop()
	<-writerDone
	m.remove(c)
}

func (m *Manager) read(c *conversation) {
	for {
		msg, err := c.wire.ReadMessage()
		if err != nil {
			if !c.stopped() {
				m.logger.Debug("Conversation ended",
					zap.Uint64("id", uint64(c.id)),
					zap.Stringer("peer", c.addr),
					zap.Error(err))
			}
			return
		}

		select {
		case m.inbound <- Event{Peer: c.id, Addr: c.addr, Message: msg}:
		case <-c.done:
			return
		}
	}
}

func (m *Manager) write(c *conversation) {
	var keepAlive <-chan time.Time
	if m.cfg.KeepAliveInterval > 0 {
		ticker := time.NewTicker(m.cfg.KeepAliveInterval)
		defer ticker.Stop()
		keepAlive = ticker.C
	}
	lastWrite := time.Now()

	for {
		var msg Message
		select {
		case <-c.done:
			return
		case msg = <-c.outbound:
		case now := <-keepAlive:
			if now.Sub(lastWrite) < m.cfg.KeepAliveInterval {
				continue
			}
			msg = Message{Type: MsgKeepAlive}
		}

		if err := c.wire.WriteMessage(msg); err != nil {
			if !c.stopped() {
				m.logger.Debug("Write failed",
					zap.Uint64("id", uint64(c.id)),
					zap.Stringer("peer", c.addr),
					zap.Error(err))
			}
			c.stop()
			return
		}
		lastWrite = time.Now()
	}
}

func (m *Manager) remove(c *conversation) {
	m.mu.Lock()
	delete(m.conversations, c.id)
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) beginPending(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return ErrManagerClosed
	}
	m.pending += n
	m.notifyLocked()
	return nil
}

func (m *Manager) finishPending() {
	m.mu.Lock()
	m.pending--
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Next returns the next message from any peer. Once every conversation has
// ended and no connection attempt is in flight it returns ErrEndOfStream.
func (m *Manager) Next(ctx context.Context) (Event, error) {
	for {
		select {
		case ev := <-m.inbound:
			return ev, nil
		default:
		}

		m.mu.Lock()
		idle := len(m.conversations) == 0 && m.pending == 0
		changed := m.changed
		m.mu.Unlock()

		// A conversation only leaves the map after its last send, so an idle
		// manager has nothing more to deliver than what is buffered.
		if idle {
			select {
			case ev := <-m.inbound:
				return ev, nil
			default:
				return Event{}, ErrEndOfStream
			}
		}

		select {
		case ev := <-m.inbound:
			return ev, nil
		case <-changed:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Send queues msg for peer id. It blocks while the peer's queue is full and
// fails once the conversation has ended.
func (m *Manager) Send(ctx context.Context, id PeerID, msg Message) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	m.mu.Unlock()
	if !ok || c.stopped() {
		return fmt.Errorf("%w: peer %d", ErrConversationEnded, id)
	}

	return c.enqueue(ctx, msg)
}

func (c *conversation) enqueue(ctx context.Context, msg Message) error {
	select {
	case c.outbound <- msg:
		// stop may have raced the enqueue; the writer will never drain it.
		if c.stopped() {
			return fmt.Errorf("%w: peer %d", ErrConversationEnded, c.id)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%w: peer %d", ErrConversationEnded, c.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect ends the conversation with peer id.
func (m *Manager) Disconnect(id PeerID) error {
	m.mu.Lock()
	c, ok := m.conversations[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: peer %d", ErrConversationEnded, id)
	}
	c.stop()
	return nil
}

// Peers lists the live conversations in ascending order.
func (m *Manager) Peers() []PeerID {
	m.mu.Lock()
	ids := make([]PeerID, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Close tears down every conversation and waits for them to finish.
// Buffered messages can still be drained with Next.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	for _, c := range m.conversations {
		c.stop()
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
