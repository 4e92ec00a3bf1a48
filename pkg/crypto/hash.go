package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

// ImplicitHashLength is the digest length of the implicit hash
// (SHA-256) used for the H0..H3 chain and the message HMACs.
const ImplicitHashLength = sha256.Size

// HashSuite binds a ZRTP hash name to its implementation.
type HashSuite struct {
	ID     protocol.AlgorithmID
	Length int
	New    func() hash.Hash
}

// Hash computes the digest over the concatenation of the data chunks.
func (s *HashSuite) Hash(data ...[]byte) []byte {
	h := s.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// HMAC computes an HMAC under the suite's hash.
func (s *HashSuite) HMAC(key []byte, data ...[]byte) []byte {
	m := hmac.New(s.New, key)
	for _, d := range data {
		m.Write(d)
	}
	return m.Sum(nil)
}

// KDF is the ZRTP key derivation function (RFC 6189 section 4.5.1):
//
//	KDF(KI, Label, Context, L) =
//	    HMAC(KI, counter(1) || Label || 0x00 || Context || L)
//
// truncated to lengthBits. Label does not carry a terminating zero;
// the separator byte follows it explicitly.
func (s *HashSuite) KDF(ki []byte, label string, context []byte, lengthBits int) []byte {
	var counter, lenField [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)
	binary.BigEndian.PutUint32(lenField[:], uint32(lengthBits))

	full := s.HMAC(ki, counter[:], []byte(label), []byte{0}, context, lenField[:])
	out := full[:lengthBits/8]
	Memzero(full[lengthBits/8:])
	return out
}

// ImplicitHash is SHA-256 over the concatenated chunks. The hash
// image chain and the HMACs of Hello, Commit and DHPart always use
// the implicit hash, independent of negotiation.
func ImplicitHash(data ...[]byte) []byte {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ImplicitHMAC is HMAC-SHA256 over the concatenated chunks.
func ImplicitHMAC(key []byte, data ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, d := range data {
		m.Write(d)
	}
	return m.Sum(nil)
}

// EqualHMAC compares two MACs in constant time, using the shorter
// length when one side is truncated.
func EqualHMAC(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	return hmac.Equal(a[:n], b[:n])
}

func newSHA256() hash.Hash { return sha256.New() }
func newSHA384() hash.Hash { return sha512.New384() }
