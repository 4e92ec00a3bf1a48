package protocol

import (
	"encoding/binary"
	"errors"
)

// Offset of the encrypted region inside an encoded Confirm: header,
// confirm HMAC, CFB IV.
const ConfirmPlainOffset = HeaderSize + HMACSize + IVSize

// Fixed words: header (3), HMAC (2), IV (4), H0 (8), filler+siglen+
// flags (1), expiry (1).
const confirmFixedWords = 19

var ErrSignatureTooLong = errors.New("signature block exceeds 9-bit length field")

// SignatureBlock is the optional SAS signature of a Confirm message.
type SignatureBlock struct {
	Type AlgorithmID // "PGP " or "X509"
	Data []byte      // word aligned
}

// lenWords is the signature length as carried on the wire: the type
// word plus the data words.
func (s *SignatureBlock) lenWords() int {
	if s == nil {
		return 0
	}
	return 1 + roundUpWords(len(s.Data))
}

// A Confirm ratifies the handshake. Everything from H0 onward travels
// encrypted under the negotiated ZRTP key; the outer HMAC covers the
// encrypted region.
type Confirm struct {
	// Part selects Confirm1 or Confirm2 and must be 1 or 2.
	Part int

	HMAC [HMACSize]byte
	IV   [IVSize]byte

	// Encrypted holds the region as seen on the wire. Decode fills
	// it; the engine replaces it after encrypting the inner fields.
	Encrypted []byte

	// Inner fields, valid after ParseInner or before EncodeInner.
	H0        [HashImageSize]byte
	Flags     uint8 // ConfirmFlag*
	Expiry    uint32
	Signature *SignatureBlock
}

func (c *Confirm) Type() string {
	if c.Part == 1 {
		return TypeConfirm1
	}
	return TypeConfirm2
}

func (c *Confirm) lenWords() int {
	return confirmFixedWords + c.Signature.lenWords()
}

// EncodeInner produces the plaintext encrypted-region layout: H0,
// filler, signature length, flags, expiry, signature block. The 9th
// bit of the signature length lives in the low bit of the second
// filler byte.
func (c *Confirm) EncodeInner() ([]byte, error) {
	sigWords := c.Signature.lenWords()
	if sigWords > 0x1ff {
		return nil, ErrSignatureTooLong
	}
	// 8 words H0, 1 word filler/siglen/flags, 1 word expiry
	buf := make([]byte, (8+1+1+sigWords)*WordSize)

	copy(buf, c.H0[:])
	off := HashImageSize
	buf[off] = 0
	buf[off+1] = uint8(sigWords>>8) & 0x01
	buf[off+2] = uint8(sigWords)
	buf[off+3] = c.Flags
	off += 4
	binary.BigEndian.PutUint32(buf[off:], c.Expiry)
	off += 4
	if c.Signature != nil {
		copy(buf[off:], c.Signature.Type[:])
		off += 4
		copy(buf[off:], c.Signature.Data)
	}
	return buf, nil
}

// ParseInner fills the inner fields from the decrypted region.
func (c *Confirm) ParseInner(plain []byte) error {
	if len(plain) < (8+1+1)*WordSize {
		return ErrShortMessage
	}
	copy(c.H0[:], plain)
	off := HashImageSize
	sigWords := int(plain[off+1]&0x01)<<8 | int(plain[off+2])
	c.Flags = plain[off+3]
	off += 4
	c.Expiry = binary.BigEndian.Uint32(plain[off:])
	off += 4

	c.Signature = nil
	if sigWords > 0 {
		if sigWords < 1 || len(plain) < off+sigWords*WordSize {
			return ErrBadLength
		}
		sig := &SignatureBlock{}
		copy(sig.Type[:], plain[off:])
		off += 4
		sig.Data = make([]byte, (sigWords-1)*WordSize)
		copy(sig.Data, plain[off:])
		c.Signature = sig
	}
	return nil
}

func (c *Confirm) Encode() []byte {
	region := c.Encrypted
	if region == nil {
		region, _ = c.EncodeInner()
	}
	lenWords := (ConfirmPlainOffset + len(region)) / WordSize
	buf := make([]byte, lenWords*WordSize)
	putHeader(buf, c.Type(), lenWords)
	copy(buf[HeaderSize:], c.HMAC[:])
	copy(buf[HeaderSize+HMACSize:], c.IV[:])
	copy(buf[ConfirmPlainOffset:], region)
	return buf
}

// DecodeConfirm parses the outer layout of a Confirm message. The
// caller verifies the HMAC and decrypts Encrypted, then ParseInner.
func DecodeConfirm(buf []byte) (*Confirm, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}

	c := &Confirm{}
	switch tag {
	case TypeConfirm1:
		c.Part = 1
	case TypeConfirm2:
		c.Part = 2
	default:
		return nil, ErrUnknownType
	}
	if msgLen < confirmFixedWords*WordSize {
		return nil, ErrShortMessage
	}

	copy(c.HMAC[:], buf[HeaderSize:])
	copy(c.IV[:], buf[HeaderSize+HMACSize:])
	c.Encrypted = make([]byte, msgLen-ConfirmPlainOffset)
	copy(c.Encrypted, buf[ConfirmPlainOffset:msgLen])
	return c, nil
}
