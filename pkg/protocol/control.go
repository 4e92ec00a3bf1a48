package protocol

import "encoding/binary"

// ackMessage covers the five header-only acknowledgements.
type ackMessage struct {
	tag string
}

func (a *ackMessage) Type() string { return a.tag }

func (a *ackMessage) Encode() []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, a.tag, HeaderSize/WordSize)
	return buf
}

// NewHelloAck returns a HelloACK message.
func NewHelloAck() Message { return &ackMessage{TypeHelloAck} }

// NewConf2Ack returns a Conf2ACK message.
func NewConf2Ack() Message { return &ackMessage{TypeConf2Ack} }

// NewErrorAck returns an ErrorACK message.
func NewErrorAck() Message { return &ackMessage{TypeErrorAck} }

// NewClearAck returns a ClearACK message.
func NewClearAck() Message { return &ackMessage{TypeClearAck} }

// NewRelayAck returns a RelayACK message.
func NewRelayAck() Message { return &ackMessage{TypeRelayAck} }

// An Error reports a terminal protocol fault to the peer.
type Error struct {
	Code ErrorCode
}

func (e *Error) Type() string { return TypeError }

func (e *Error) Encode() []byte {
	buf := make([]byte, HeaderSize+4)
	putHeader(buf, TypeError, (HeaderSize+4)/WordSize)
	binary.BigEndian.PutUint32(buf[HeaderSize:], uint32(e.Code))
	return buf
}

// DecodeError parses an Error message.
func DecodeError(buf []byte) (*Error, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypeError {
		return nil, ErrUnknownType
	}
	if msgLen != HeaderSize+4 {
		return nil, ErrBadLength
	}
	return &Error{Code: ErrorCode(binary.BigEndian.Uint32(buf[HeaderSize:]))}, nil
}

// EndpointHashSize is the truncated hash identifying a Ping endpoint.
const EndpointHashSize = 8

// Ping probes for a ZRTP-capable peer before the Hello exchange.
type Ping struct {
	Version      [4]byte
	EndpointHash [EndpointHashSize]byte
}

func (p *Ping) Type() string { return TypePing }

func (p *Ping) Encode() []byte {
	buf := make([]byte, HeaderSize+4+EndpointHashSize)
	putHeader(buf, TypePing, (HeaderSize+4+EndpointHashSize)/WordSize)
	copy(buf[HeaderSize:], p.Version[:])
	copy(buf[HeaderSize+4:], p.EndpointHash[:])
	return buf
}

// DecodePing parses a Ping message.
func DecodePing(buf []byte) (*Ping, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypePing {
		return nil, ErrUnknownType
	}
	if msgLen != HeaderSize+4+EndpointHashSize {
		return nil, ErrBadLength
	}
	p := &Ping{}
	copy(p.Version[:], buf[HeaderSize:])
	copy(p.EndpointHash[:], buf[HeaderSize+4:])
	return p, nil
}

// PingAck answers a Ping, mirroring the received endpoint hash and the
// SSRC the Ping arrived with.
type PingAck struct {
	Version            [4]byte
	SenderHash         [EndpointHashSize]byte
	ReceivedHash       [EndpointHashSize]byte
	SSRC               uint32
}

func (p *PingAck) Type() string { return TypePingAck }

func (p *PingAck) Encode() []byte {
	size := HeaderSize + 4 + 2*EndpointHashSize + 4
	buf := make([]byte, size)
	putHeader(buf, TypePingAck, size/WordSize)
	off := HeaderSize
	copy(buf[off:], p.Version[:])
	off += 4
	copy(buf[off:], p.SenderHash[:])
	off += EndpointHashSize
	copy(buf[off:], p.ReceivedHash[:])
	off += EndpointHashSize
	binary.BigEndian.PutUint32(buf[off:], p.SSRC)
	return buf
}

// DecodePingAck parses a PingACK message.
func DecodePingAck(buf []byte) (*PingAck, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypePingAck {
		return nil, ErrUnknownType
	}
	if msgLen != HeaderSize+4+2*EndpointHashSize+4 {
		return nil, ErrBadLength
	}
	p := &PingAck{}
	off := HeaderSize
	copy(p.Version[:], buf[off:])
	off += 4
	copy(p.SenderHash[:], buf[off:])
	off += EndpointHashSize
	copy(p.ReceivedHash[:], buf[off:])
	off += EndpointHashSize
	p.SSRC = binary.BigEndian.Uint32(buf[off:])
	return p, nil
}

// GoClear asks the peer to drop back to clear media. Optional feature.
type GoClear struct {
	HMAC [HMACSize]byte // keyed by the sender's HMAC key
}

func (g *GoClear) Type() string { return TypeGoClear }

func (g *GoClear) Encode() []byte {
	buf := make([]byte, HeaderSize+HMACSize)
	putHeader(buf, TypeGoClear, (HeaderSize+HMACSize)/WordSize)
	copy(buf[HeaderSize:], g.HMAC[:])
	return buf
}

// DecodeGoClear parses a GoClear message.
func DecodeGoClear(buf []byte) (*GoClear, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypeGoClear {
		return nil, ErrUnknownType
	}
	if msgLen != HeaderSize+HMACSize {
		return nil, ErrBadLength
	}
	g := &GoClear{}
	copy(g.HMAC[:], buf[HeaderSize:])
	return g, nil
}
