package livestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFrames(t *testing.T) {
	frames := authFrames(210001, "Ab0cDEFG")
	require.Len(t, frames, 5)

	// 고정 프레임
	assert.Equal(t, authFrame1, frames[0])
	assert.Equal(t, authFrame3, frames[2])
	assert.Equal(t, authFrame5, frames[4])

	// 클라이언트 id는 4바이트 빅엔디언
	assert.Equal(t, []byte{0x00, 0x03, 0x34, 0x51}, frames[1])

	// 연결 id는 ASCII 그대로
	assert.Equal(t, []byte("Ab0cDEFG"), frames[3])
}

func TestParseFrameHeader(t *testing.T) {
	hdr, err := parseFrameHeader([]byte{0x00, 0x00, 0x00, 0x00, 0x07, 0x00, 0x00, 0x01, 0x2c})
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), hdr.msgType)
	assert.Equal(t, uint32(7), hdr.seq)
	assert.Equal(t, uint32(300), hdr.length)

	_, err = parseFrameHeader([]byte{0x00, 0x01})
	assert.Error(t, err)
}
