package livestream

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/blinkd/internal/client"
	"go.uber.org/zap"
)

func TestNewSessionParsesTarget(t *testing.T) {
	resp := &client.LiveviewResponse{
		CommandID:       42,
		PollingInterval: 15,
		Server:          "immis://3.218.220.193:443/Ab0cDEFG__IMDS_XYZ?client_id=210001",
	}

	s, err := NewSession(nil, 9, resp, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.commandID)
	assert.Equal(t, 15*time.Second, s.pollingInterval)
	assert.Equal(t, uint32(210001), s.clientID)
	// 연결 id는 마지막 경로 조각에서 "__" 앞부분만 취합니다
	assert.Equal(t, "Ab0cDEFG", s.connectionID)
	assert.Equal(t, defaultClientBuffer, s.bufferSize)
}

func TestNewSessionRejectsBadTarget(t *testing.T) {
	_, err := NewSession(nil, 9, &client.LiveviewResponse{
		Server: "immis://host:443/path__x?client_id=notanumber",
	}, 0, zap.NewNop())
	assert.Error(t, err)

	_, err = NewSession(nil, 9, &client.LiveviewResponse{
		Server: "immis://host:443/?client_id=1",
	}, 0, zap.NewNop())
	assert.Error(t, err)
}

// newTestSession은 업스트림을 파이프로 대체한 세션을 만듭니다
func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	upstream, remote := net.Pipe()

	s := &Session{
		logger:          zap.NewNop(),
		pollingInterval: time.Hour,
		bufferSize:      8,
		clients:         make(map[string]*subscriber),
		done:            make(chan struct{}),
		upstream:        upstream,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	t.Cleanup(s.Stop)
	return s, remote
}

func addTestSubscriber(t *testing.T, s *Session, buffer int) *subscriber {
	t.Helper()
	conn, _ := net.Pipe()
	sub := &subscriber{
		id:   "test-client",
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[sub.id] = sub
	s.hadClient = true
	s.mu.Unlock()
	return sub
}

func writeFrame(t *testing.T, conn net.Conn, msgType byte, seq uint32, payload []byte) {
	t.Helper()
	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = msgType
	binary.BigEndian.PutUint32(frame[1:5], seq)
	binary.BigEndian.PutUint32(frame[5:9], uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, err := conn.Write(frame)
	require.NoError(t, err)
}

func recvPayload(t *testing.T, sub *subscriber) []byte {
	t.Helper()
	select {
	case data := <-sub.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("no payload forwarded")
		return nil
	}
}

// 미디어 프레임(타입 0x00, TS 싱크 바이트)만 클라이언트로 전달됩니다
func TestCopyLoopForwardsMediaOnly(t *testing.T) {
	s, remote := newTestSession(t)
	sub := addTestSubscriber(t, s, 8)

	go s.copyLoop()

	media := append([]byte{tsSyncByte}, []byte("ts-packet")...)
	writeFrame(t, remote, msgTypeMedia, 1, media)
	assert.Equal(t, media, recvPayload(t, sub))

	// 싱크 바이트가 아니면 버립니다
	writeFrame(t, remote, msgTypeMedia, 2, []byte{0x42, 0x01})
	// 미디어 타입이 아니면 버립니다
	writeFrame(t, remote, 0x01, 3, append([]byte{tsSyncByte}, 0x02))

	media2 := append([]byte{tsSyncByte}, 0x03)
	writeFrame(t, remote, msgTypeMedia, 4, media2)
	assert.Equal(t, media2, recvPayload(t, sub))
	assert.Empty(t, sub.send)

	// 업스트림 종료는 세션 전체를 정리합니다
	remote.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not tear down after upstream close")
	}
}

// 버퍼가 가득 찬 클라이언트는 릴레이를 멈추지 않고 페이로드를 놓칩니다
func TestBroadcastDropsOnFullBuffer(t *testing.T) {
	s, _ := newTestSession(t)
	sub := addTestSubscriber(t, s, 1)
	sub.send <- []byte("occupied")

	finished := make(chan struct{})
	go func() {
		s.broadcast([]byte("dropped"))
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	assert.Equal(t, []byte("occupied"), <-sub.send)
	assert.Empty(t, sub.send)
}

func TestStopIdempotent(t *testing.T) {
	s, _ := newTestSession(t)
	addTestSubscriber(t, s, 1)

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
		s.Stop()
	})

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.True(t, s.closed())
}

// 마지막 클라이언트가 떠나면 세션이 종료됩니다
func TestLastClientDisconnectTearsDown(t *testing.T) {
	s, _ := newTestSession(t)
	sub := addTestSubscriber(t, s, 1)

	s.removeClient(sub)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not tear down after last client left")
	}
}
