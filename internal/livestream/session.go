package livestream

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/blinkd/internal/client"
	"go.uber.org/zap"
)

const defaultClientBuffer = 64

// subscriber는 세션에 연결된 로컬 클라이언트입니다
type subscriber struct {
	id   string
	conn net.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Session relays one liveview stream: it speaks the vendor framing to
// the upstream server and hands raw MPEG-TS to local TCP clients.
type Session struct {
	api    *client.Client
	logger *zap.Logger

	networkID       int
	commandID       int64
	pollingInterval time.Duration
	target          *url.URL
	clientID        uint32
	connectionID    string
	bufferSize      int

	listener net.Listener
	upstream net.Conn

	mu        sync.RWMutex
	clients   map[string]*subscriber
	hadClient bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewSession parses a liveview response into a relay session. The
// server URL carries the client id as a query parameter and the
// connection id as the last path segment.
func NewSession(api *client.Client, networkID int, resp *client.LiveviewResponse, bufferSize int, logger *zap.Logger) (*Session, error) {
	target, err := url.Parse(resp.Server)
	if err != nil {
		return nil, fmt.Errorf("parse liveview server: %w", err)
	}

	rawClientID := target.Query().Get("client_id")
	clientID, err := strconv.ParseUint(rawClientID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parse client_id %q: %w", rawClientID, err)
	}

	segments := strings.Split(target.Path, "/")
	connectionID := strings.SplitN(segments[len(segments)-1], "__", 2)[0]
	if connectionID == "" {
		return nil, fmt.Errorf("no connection id in liveview path %q", target.Path)
	}

	interval := time.Duration(resp.PollingInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if bufferSize <= 0 {
		bufferSize = defaultClientBuffer
	}

	return &Session{
		api:             api,
		logger:          logger,
		networkID:       networkID,
		commandID:       resp.CommandID,
		pollingInterval: interval,
		target:          target,
		clientID:        uint32(clientID),
		connectionID:    connectionID,
		bufferSize:      bufferSize,
		clients:         make(map[string]*subscriber),
		done:            make(chan struct{}),
	}, nil
}

// Start binds a loopback listener, connects upstream and launches the
// relay loops. It returns the local URL clients should connect to.
func (s *Session) Start(ctx context.Context) (string, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("bind relay listener: %w", err)
	}
	s.listener = listener

	if err := s.connectUpstream(); err != nil {
		listener.Close()
		return "", err
	}

	go s.acceptLoop()
	go s.copyLoop()
	go s.keepaliveLoop()
	go s.commandPollLoop()

	local := fmt.Sprintf("tcp://%s", listener.Addr().String())
	s.logger.Info("Liveview relay started",
		zap.String("local", local),
		zap.String("upstream", s.target.Host),
		zap.Int64("command_id", s.commandID),
	)
	return local, nil
}

// Done is closed when the session has torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// connectUpstream dials the vendor server and writes the handshake.
// The vendor endpoint presents a certificate that does not verify, so
// verification is disabled for this connection only.
func (s *Session) connectUpstream() error {
	host := s.target.Host
	if s.target.Port() == "" {
		host = net.JoinHostPort(s.target.Hostname(), "443")
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", host, &tls.Config{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return fmt.Errorf("dial liveview server: %w", err)
	}

	for _, frame := range authFrames(s.clientID, s.connectionID) {
		if _, err := conn.Write(frame); err != nil {
			conn.Close()
			return fmt.Errorf("write auth frame: %w", err)
		}
	}

	s.upstream = conn
	return nil
}

func (s *Session) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed() {
				return
			}
			s.logger.Warn("Relay accept failed", zap.Error(err))
			return
		}

		sub := &subscriber{
			id:   uuid.New().String(),
			conn: conn,
			send: make(chan []byte, s.bufferSize),
			done: make(chan struct{}),
		}
		s.addClient(sub)
		go s.writePump(sub)
		go s.readPump(sub)
	}
}

func (s *Session) addClient(sub *subscriber) {
	s.mu.Lock()
	s.clients[sub.id] = sub
	s.hadClient = true
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Debug("Relay client connected",
		zap.String("client_id", sub.id),
		zap.Int("clients", count),
	)
}

func (s *Session) removeClient(sub *subscriber) {
	s.mu.Lock()
	if _, ok := s.clients[sub.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, sub.id)
	count := len(s.clients)
	hadClient := s.hadClient
	s.mu.Unlock()

	sub.close()
	s.logger.Debug("Relay client disconnected",
		zap.String("client_id", sub.id),
		zap.Int("clients", count),
	)

	// The upstream session is per-viewer; no point keeping it alive
	// once the last client has gone.
	if count == 0 && hadClient {
		s.Stop()
	}
}

// readPump drains and discards client input so disconnects are noticed.
func (s *Session) readPump(sub *subscriber) {
	buf := make([]byte, 1024)
	for {
		if _, err := sub.conn.Read(buf); err != nil {
			s.removeClient(sub)
			return
		}
	}
}

// writePump is the per-client worker goroutine.
func (s *Session) writePump(sub *subscriber) {
	for {
		select {
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := sub.conn.Write(data); err != nil {
				s.removeClient(sub)
				return
			}
		case <-sub.done:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// broadcast fans a payload out to every client. A client whose buffer
// is full misses this payload rather than stalling the relay.
func (s *Session) broadcast(data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.clients {
		select {
		case sub.send <- data:
		default:
			s.logger.Debug("Relay client buffer full, dropping payload",
				zap.String("client_id", sub.id),
				zap.Int("bytes", len(data)),
			)
		}
	}
}

// copyLoop reads framed payloads from upstream and forwards media
// frames. Any read error tears the session down.
func (s *Session) copyLoop() {
	defer s.Stop()

	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(s.upstream, header); err != nil {
			s.logUpstreamError("header read", err)
			return
		}
		hdr, err := parseFrameHeader(header)
		if err != nil {
			s.logger.Warn("Bad frame header, closing relay", zap.Error(err))
			return
		}

		payload := make([]byte, hdr.length)
		if _, err := io.ReadFull(s.upstream, payload); err != nil {
			s.logUpstreamError("payload read", err)
			return
		}

		if hdr.msgType == msgTypeMedia && len(payload) > 0 && payload[0] == tsSyncByte {
			s.broadcast(payload)
			continue
		}
		s.logger.Debug("Dropping non-media frame",
			zap.Uint8("msg_type", hdr.msgType),
			zap.Uint32("seq", hdr.seq),
			zap.Uint32("length", hdr.length),
		)
	}
}

// keepaliveLoop writes the keepalive frame on the server's polling
// interval so the upstream session stays open.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.upstream.Write(keepaliveFrame); err != nil {
				s.logUpstreamError("keepalive write", err)
				s.Stop()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// commandPollLoop watches the liveview command so a server-side stop
// tears the relay down promptly.
func (s *Session) commandPollLoop() {
	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			resp, err := s.api.CommandStatus(s.ctx, s.networkID, s.commandID)
			if err != nil {
				if client.IsTransportError(err) {
					s.logger.Debug("Liveview command poll failed", zap.Error(err))
					continue
				}
				s.logger.Warn("Liveview command poll failed, closing relay", zap.Error(err))
				s.Stop()
				return
			}
			if resp != nil && resp.Complete {
				s.logger.Info("Liveview session ended by server",
					zap.Int64("command_id", s.commandID),
				)
				s.Stop()
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// logUpstreamError keeps shutdown races quiet: a read or write that
// fails because we closed the socket ourselves is not noteworthy.
func (s *Session) logUpstreamError(op string, err error) {
	if s.closed() || err == io.EOF {
		return
	}
	msg := err.Error()
	if strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset") {
		s.logger.Debug("Upstream connection closed", zap.String("op", op), zap.Error(err))
		return
	}
	s.logger.Warn("Upstream relay error", zap.String("op", op), zap.Error(err))
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stop tears the session down. Safe to call any number of times, from
// any goroutine.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			s.listener.Close()
		}
		if s.upstream != nil {
			s.upstream.Close()
		}

		s.mu.Lock()
		subs := make([]*subscriber, 0, len(s.clients))
		for _, sub := range s.clients {
			subs = append(subs, sub)
		}
		s.clients = make(map[string]*subscriber)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.close()
		}
		s.logger.Info("Liveview relay stopped", zap.Int64("command_id", s.commandID))
	})
}
