// (c) 2024-2026, Kestrel Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTripSmallPayload(t *testing.T) {
	payload := []byte("a small message")
	frame := EncodeFrame(payload)

	length, err := FrameLength(frame)
	require.NoError(t, err)
	require.Equal(t, uint32(len(frame)-4), length)

	decoded, err := DecodeFrame(frame[4:])
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestEncodeDecodeFrameRoundTripLargePayloadIsCompressed(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	frame := EncodeFrame(payload)

	body := frame[4:]
	require.Equal(t, byte(0xFF), body[0])
	require.Equal(t, byte(0xCF), body[1])
	require.Less(t, len(frame), 4+len(payload), "a highly compressible payload must shrink")

	decoded, err := DecodeFrame(body)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestEncodeFrameLeavesSmallPayloadsUncompressed(t *testing.T) {
	payload := []byte("short")
	frame := EncodeFrame(payload)
	require.Equal(t, payload, frame[4:])
}

func TestFrameLengthRejectsShortHeader(t *testing.T) {
	_, err := FrameLength([]byte{0x00, 0x01})
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestFrameLengthMatchesBigEndianEncoding(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 42)
	length, err := FrameLength(header)
	require.NoError(t, err)
	require.Equal(t, uint32(42), length)
}

func TestDecodeFrameRejectsCorruptCompressedBody(t *testing.T) {
	body := append([]byte{0xFF, 0xCF}, []byte("not actually snappy data")...)
	_, err := DecodeFrame(body)
	require.Error(t, err)
}

func TestDecodeFramePassesThroughBodyLackingMarker(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	decoded, err := DecodeFrame(body)
	require.NoError(t, err)
	require.Equal(t, body, decoded)
}
