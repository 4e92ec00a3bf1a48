package protocol

import "errors"

// Fixed part of a Hello message in words: header (3), version (1),
// client id (4), H3 (8), ZID (3), flags and counts (1), HMAC (2).
const helloFixedWords = 22

// A Hello offers algorithms and announces the endpoint identity.
type Hello struct {
	Version  [4]byte
	ClientID [16]byte
	H3       [HashImageSize]byte
	ZID      ZID
	Flags    uint8 // FlagSASSign | FlagMitm | FlagPassive | FlagDisclosure

	Hashes        []AlgorithmID
	Ciphers       []AlgorithmID
	AuthTags      []AlgorithmID
	KeyAgreements []AlgorithmID
	SASTypes      []AlgorithmID

	HMAC [HMACSize]byte
}

var ErrTooManyAlgorithms = errors.New("more than 7 algorithms in a category")

func (h *Hello) Type() string { return TypeHello }

// SetClientID fills the client id field, space padded.
func (h *Hello) SetClientID(id string) {
	for i := range h.ClientID {
		h.ClientID[i] = ' '
	}
	copy(h.ClientID[:], id)
}

func (h *Hello) lenWords() int {
	return helloFixedWords + len(h.Hashes) + len(h.Ciphers) +
		len(h.AuthTags) + len(h.KeyAgreements) + len(h.SASTypes)
}

func (h *Hello) Encode() []byte {
	buf := make([]byte, h.lenWords()*WordSize)
	putHeader(buf, TypeHello, h.lenWords())

	off := HeaderSize
	copy(buf[off:], h.Version[:])
	off += 4
	copy(buf[off:], h.ClientID[:])
	off += 16
	copy(buf[off:], h.H3[:])
	off += HashImageSize
	copy(buf[off:], h.ZID[:])
	off += ZIDSize

	// Flag byte, then the five 4-bit algorithm counts.
	buf[off] = h.Flags & (FlagSASSign | FlagMitm | FlagPassive | FlagDisclosure)
	buf[off+1] = uint8(len(h.Hashes)) & 0x0f
	buf[off+2] = uint8(len(h.Ciphers))<<4 | uint8(len(h.AuthTags))&0x0f
	buf[off+3] = uint8(len(h.KeyAgreements))<<4 | uint8(len(h.SASTypes))&0x0f
	off += 4

	for _, list := range [][]AlgorithmID{h.Hashes, h.Ciphers, h.AuthTags, h.KeyAgreements, h.SASTypes} {
		for _, a := range list {
			copy(buf[off:], a[:])
			off += 4
		}
	}

	copy(buf[off:], h.HMAC[:])
	return buf
}

// DecodeHello parses a Hello message (header included, CRC stripped).
func DecodeHello(buf []byte) (*Hello, error) {
	tag, msgLen, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if tag != TypeHello {
		return nil, ErrUnknownType
	}
	if msgLen < helloFixedWords*WordSize {
		return nil, ErrShortMessage
	}

	h := &Hello{}
	off := HeaderSize
	copy(h.Version[:], buf[off:])
	off += 4
	copy(h.ClientID[:], buf[off:])
	off += 16
	copy(h.H3[:], buf[off:])
	off += HashImageSize
	copy(h.ZID[:], buf[off:])
	off += ZIDSize

	h.Flags = buf[off] & (FlagSASSign | FlagMitm | FlagPassive | FlagDisclosure)
	nHash := int(buf[off+1] & 0x0f)
	nCipher := int(buf[off+2] >> 4)
	nAuth := int(buf[off+2] & 0x0f)
	nPubKey := int(buf[off+3] >> 4)
	nSAS := int(buf[off+3] & 0x0f)
	off += 4

	if msgLen != (helloFixedWords+nHash+nCipher+nAuth+nPubKey+nSAS)*WordSize {
		return nil, ErrBadLength
	}

	readList := func(n int) []AlgorithmID {
		list := make([]AlgorithmID, n)
		for i := 0; i < n; i++ {
			copy(list[i][:], buf[off:])
			off += 4
		}
		return list
	}
	h.Hashes = readList(nHash)
	h.Ciphers = readList(nCipher)
	h.AuthTags = readList(nAuth)
	h.KeyAgreements = readList(nPubKey)
	h.SASTypes = readList(nSAS)

	copy(h.HMAC[:], buf[off:])
	return h, nil
}

// IsSASSign reports the S flag.
func (h *Hello) IsSASSign() bool { return h.Flags&FlagSASSign != 0 }

// IsMitm reports the M flag.
func (h *Hello) IsMitm() bool { return h.Flags&FlagMitm != 0 }

// IsPassive reports the P flag.
func (h *Hello) IsPassive() bool { return h.Flags&FlagPassive != 0 }

// IsDisclosure reports the D flag.
func (h *Hello) IsDisclosure() bool { return h.Flags&FlagDisclosure != 0 }
