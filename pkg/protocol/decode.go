package protocol

// Decode parses an inbound message (CRC already checked and stripped)
// into its typed representation.
func Decode(buf []byte) (Message, error) {
	tag, _, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TypeHello:
		return DecodeHello(buf)
	case TypeCommit:
		return DecodeCommit(buf)
	case TypeDHPart1, TypeDHPart2:
		return DecodeDHPart(buf)
	case TypeConfirm1, TypeConfirm2:
		return DecodeConfirm(buf)
	case TypeError:
		return DecodeError(buf)
	case TypePing:
		return DecodePing(buf)
	case TypePingAck:
		return DecodePingAck(buf)
	case TypeGoClear:
		return DecodeGoClear(buf)
	case TypeSASRelay:
		return DecodeSASRelay(buf)
	case TypeHelloAck, TypeConf2Ack, TypeErrorAck, TypeClearAck, TypeRelayAck:
		return &ackMessage{tag}, nil
	default:
		return nil, ErrUnknownType
	}
}
