// Package ws carries sync frames over gorilla websockets. Every frame
// is one binary message: a channel byte followed by the payload. The
// connection handshake pins the protocol version and both channel
// counts, so peers built from different registration code fail fast
// instead of exchanging garbage.
//
// Websockets run over TCP, so every channel is effectively reliable
// and ordered regardless of its registered SendType; the registered
// policies still gate what the sync layer may assume elsewhere.
package ws

import (
	"fmt"
	"time"

	"worldsync"
	"worldsync/wire"
)

// ProtocolVersion changes whenever the handshake or frame layout does.
const ProtocolVersion = 1

const (
	defaultWriteWait       = 10 * time.Second
	defaultIdleTimeout     = 15 * time.Second
	defaultMaxQueuedFrames = 4096
)

type hello struct {
	version        uint8
	client         worldsync.ClientID
	serverChannels uint8
	clientChannels uint8
}

func encodeHello(h hello) []byte {
	var w wire.Writer
	w.Uint8(h.version)
	w.Uint64(uint64(h.client))
	w.Uint8(h.serverChannels)
	w.Uint8(h.clientChannels)
	return append([]byte(nil), w.Bytes()...)
}

func decodeHello(frame []byte) (hello, error) {
	r := wire.NewReader(frame)
	var h hello
	var err error
	if h.version, err = r.Uint8(); err != nil {
		return h, fmt.Errorf("handshake version: %w", err)
	}
	v, err := r.Uint64()
	if err != nil {
		return h, fmt.Errorf("handshake client id: %w", err)
	}
	h.client = worldsync.ClientID(v)
	if h.serverChannels, err = r.Uint8(); err != nil {
		return h, fmt.Errorf("handshake channel count: %w", err)
	}
	if h.clientChannels, err = r.Uint8(); err != nil {
		return h, fmt.Errorf("handshake channel count: %w", err)
	}
	if err := r.Finish(); err != nil {
		return h, fmt.Errorf("handshake: %w", err)
	}
	return h, nil
}

func encodeFrame(ch worldsync.ChannelID, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(ch)
	copy(buf[1:], payload)
	return buf
}
