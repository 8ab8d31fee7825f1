// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"encoding/binary"
	"errors"

	"github.com/golang/snappy"
)

// compressionMarker is the two-byte prefix spec.md §6.2 reserves to flag a
// snappy-compressed frame body, the same marker byte pair go-ethereum's
// own devp2p framing convention uses snappy compression for.
var compressionMarker = [2]byte{0xFF, 0xCF}

// ErrShortFrame is returned when a buffer is too small to contain even a
// length prefix.
var ErrShortFrame = errors.New("network: frame too short")

// EncodeFrame produces a length-prefixed wire frame for payload. Payloads
// at or above compressMinSize are snappy-compressed and marked with the
// 0xFF 0xCF prefix; smaller payloads are sent as-is, since compression
// overhead would dominate for them.
func EncodeFrame(payload []byte) []byte {
	const compressMinSize = 256
	body := payload
	if len(payload) >= compressMinSize {
		compressed := snappy.Encode(nil, payload)
		body = make([]byte, 0, len(compressionMarker)+len(compressed))
		body = append(body, compressionMarker[:]...)
		body = append(body, compressed...)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return frame
}

// DecodeFrame reverses EncodeFrame given the post-length-prefix body
// (a transport that reads a 4-byte length then exactly that many bytes
// hands the result here).
func DecodeFrame(body []byte) ([]byte, error) {
	if len(body) >= 2 && body[0] == compressionMarker[0] && body[1] == compressionMarker[1] {
		return snappy.Decode(nil, body[2:])
	}
	return body, nil
}

// FrameLength reads the 4-byte big-endian length prefix from the start of
// a raw byte stream, for a transport that needs to know how many more
// bytes to read before calling DecodeFrame.
func FrameLength(header []byte) (uint32, error) {
	if len(header) < 4 {
		return 0, ErrShortFrame
	}
	return binary.BigEndian.Uint32(header), nil
}
