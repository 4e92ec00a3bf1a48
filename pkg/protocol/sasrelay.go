package protocol

// Fixed words of a SASrelay: header (3), HMAC (2), IV (4), filler+
// siglen+flags (1), rendering scheme (1), SAS hash (8).
const sasRelayFixedWords = 19

// SASRelay is sent by a trusted MitM (PBX) to substitute the SAS on
// the far leg of a relayed call. Shaped like a Confirm: everything
// after the IV is encrypted and covered by the outer HMAC.
type SASRelay struct {
	HMAC [HMACSize]byte
	IV   [IVSize]byte

	// Encrypted region as on the wire; see Confirm.Encrypted.
	Encrypted []byte

	// Inner fields.
	Flags     uint8       // ConfirmFlag*
	Scheme    AlgorithmID // SAS rendering scheme of the relayed hash
	SASHash   [HashImageSize]byte
	Signature *SignatureBlock
}

func (s *SASRelay) Type() string { return TypeSASRelay }

// EncodeInner produces the plaintext encrypted-region layout.
func (s *SASRelay) EncodeInner() ([]byte, error) {
	sigWords := s.Signature.lenWords()
	if sigWords > 0x1ff {
		return nil, ErrSignatureTooLong
	}
	buf := make([]byte, (1+1+8+sigWords)*WordSize)

	buf[1] = uint8(sigWords>>8) & 0x01
	buf[2] = uint8(sigWords)
	buf[3] = s.Flags
	off := 4
	copy(buf[off:], s.Scheme[:])
	off += 4
	copy(buf[off:], s.SASHash[:])
	off += HashImageSize
	if s.Signature != nil {
		copy(buf[off:], s.Signature.Type[:])
		off += 4
		copy(buf[off:], s.Signature.Data)
	}
	return buf, nil
}

// ParseInner fills the inner fields from the decrypted region.
func (s *SASRelay) ParseInner(plain []byte) error {
	if len(plain) < (1+1+8)*WordSize {
		return ErrShortMessage
	}
	sigWords := int(plain[1]&0x01)<<8 | int(plain[2])
	s.Flags = plain[3]
	off := 4
	copy(s.Scheme[:], plain[off:])
	off += 4
	copy(s.SASHash[:], plain[off:])
	off += HashImageSize

	s.Signature = nil
	if sigWords > 0 {
		if len(plain) < off+sigWords*WordSize {
			return ErrBadLength
		}
		sig := &SignatureBlock{}
		copy(sig.Type[:], plain[off:])
		off += 4
		sig.Data = make([]byte, (sigWords-1)*WordSize)
		copy(sig.Data, plain[off:])
		s.Signature = sig
	}
	return nil
}

func (s *SASRelay) Encode() []byte {
	region := s.Encrypted
	if region == nil {
		region, _ = s.EncodeInner()
	}
	lenWords := (ConfirmPlainOffset + len(region)) / WordSize
	buf := make([]byte, lenWords*WordSize)
	putHeader(buf, TypeSASRelay, lenWords)
	copy(buf[HeaderSize:], s.HMAC[:])
	copy(buf[HeaderSize+HMACSize:], s.IV[:])
	copy(buf[ConfirmPlainOffset:], region)
	return buf
}

// DecodeSASRelay parses the outer layout of a SASrelay message.
func DecodeSASRelay(buf []byte) (*SASRelay, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypeSASRelay {
		return nil, ErrUnknownType
	}
	if msgLen < sasRelayFixedWords*WordSize {
		return nil, ErrShortMessage
	}
	s := &SASRelay{}
	copy(s.HMAC[:], buf[HeaderSize:])
	copy(s.IV[:], buf[HeaderSize+HMACSize:])
	s.Encrypted = make([]byte, msgLen-ConfirmPlainOffset)
	copy(s.Encrypted, buf[ConfirmPlainOffset:msgLen])
	return s, nil
}
