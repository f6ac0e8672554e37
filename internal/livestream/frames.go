package livestream

import (
	"encoding/binary"
	"fmt"
)

// Wire constants for the vendor streaming protocol. The handshake is
// five fixed frames; only the client id and connection id vary.
const (
	frameHeaderSize = 9

	// msgTypeMedia carries MPEG-TS payload. The first payload byte of
	// a media frame is the TS sync byte.
	msgTypeMedia = 0x00
	tsSyncByte   = 0x47
)

var authFrame1 = []byte{
	0x00, 0x00, 0x00, 0x28, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var authFrame3 = []byte{
	0x01, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x10,
}

var authFrame5 = []byte{
	0x00, 0x00, 0x00, 0x01, 0x0a, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
}

var keepaliveFrame = []byte{
	0x12, 0x00, 0x00, 0x03, 0xe8, 0x00, 0x00, 0x00, 0x18, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00,
}

// authFrames builds the five-frame handshake for one session.
func authFrames(clientID uint32, connectionID string) [][]byte {
	frame2 := make([]byte, 4)
	binary.BigEndian.PutUint32(frame2, clientID)
	return [][]byte{
		authFrame1,
		frame2,
		authFrame3,
		[]byte(connectionID),
		authFrame5,
	}
}

// frameHeader is the fixed header preceding every upstream payload.
type frameHeader struct {
	msgType byte
	seq     uint32
	length  uint32
}

func parseFrameHeader(b []byte) (frameHeader, error) {
	if len(b) < frameHeaderSize {
		return frameHeader{}, fmt.Errorf("short frame header: %d bytes", len(b))
	}
	return frameHeader{
		msgType: b[0],
		seq:     binary.BigEndian.Uint32(b[1:5]),
		length:  binary.BigEndian.Uint32(b[5:9]),
	}, nil
}
