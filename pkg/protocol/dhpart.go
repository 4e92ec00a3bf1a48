package protocol

// Fixed part of a DHPart message in words: header (3), H1 (8), four
// secret ids (2 each), HMAC (2).
const dhPartFixedWords = 21

// A DHPart carries one half of the Diffie-Hellman exchange together
// with the retained-secret identifiers. DHPart1 is sent by the
// responder ("r" ids), DHPart2 by the initiator ("i" ids).
type DHPart struct {
	// Part selects DHPart1 or DHPart2 and must be 1 or 2.
	Part int

	H1          [HashImageSize]byte
	RS1ID       [SecretIDSize]byte
	RS2ID       [SecretIDSize]byte
	AuxSecretID [SecretIDSize]byte
	PBXSecretID [SecretIDSize]byte

	// PV is the public key value; its length is fixed by the
	// negotiated key agreement and always a multiple of WordSize.
	PV []byte

	HMAC [HMACSize]byte
}

func (d *DHPart) Type() string {
	if d.Part == 1 {
		return TypeDHPart1
	}
	return TypeDHPart2
}

func (d *DHPart) lenWords() int {
	return dhPartFixedWords + roundUpWords(len(d.PV))
}

func (d *DHPart) Encode() []byte {
	buf := make([]byte, d.lenWords()*WordSize)
	putHeader(buf, d.Type(), d.lenWords())

	off := HeaderSize
	copy(buf[off:], d.H1[:])
	off += HashImageSize
	for _, id := range [][SecretIDSize]byte{d.RS1ID, d.RS2ID, d.AuxSecretID, d.PBXSecretID} {
		copy(buf[off:], id[:])
		off += SecretIDSize
	}
	copy(buf[off:], d.PV)
	off += roundUpWords(len(d.PV)) * WordSize
	copy(buf[off:], d.HMAC[:])
	return buf
}

// DecodeDHPart parses a DHPart1 or DHPart2 message.
func DecodeDHPart(buf []byte) (*DHPart, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	d := &DHPart{}
	switch tag {
	case TypeDHPart1:
		d.Part = 1
	case TypeDHPart2:
		d.Part = 2
	default:
		return nil, ErrUnknownType
	}
	if msgLen < dhPartFixedWords*WordSize {
		return nil, ErrShortMessage
	}

	off := HeaderSize
	copy(d.H1[:], buf[off:])
	off += HashImageSize
	for _, id := range []*[SecretIDSize]byte{&d.RS1ID, &d.RS2ID, &d.AuxSecretID, &d.PBXSecretID} {
		copy(id[:], buf[off:])
		off += SecretIDSize
	}

	pvLen := msgLen - off - HMACSize
	d.PV = make([]byte, pvLen)
	copy(d.PV, buf[off:off+pvLen])
	off += pvLen
	copy(d.HMAC[:], buf[off:])
	return d, nil
}
