package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

var (
	ErrBadPublicValue = errors.New("peer public value failed validation")
	ErrWrongPVLength  = errors.New("peer public value has wrong length")
)

// DHContext is one side of a key agreement. A context holds the
// ephemeral private key and is good for a single shared-secret
// computation; Zero scrubs the private material.
type DHContext interface {
	// PublicValue returns the pv field for the DHPart message,
	// fixed length for the algorithm.
	PublicValue() []byte

	// SharedSecret validates the peer's public value and computes
	// the shared secret (DHss). Returns ErrBadPublicValue for
	// identity elements, small-subgroup points and out-of-range
	// values.
	SharedSecret(peerPV []byte) ([]byte, error)

	// Zero scrubs the private key material.
	Zero()
}

// KeyAgreementSuite binds a ZRTP key agreement name to a context
// factory and its public value length.
type KeyAgreementSuite struct {
	ID      protocol.AlgorithmID
	PVLen   int
	NonNIST bool
	New     func() (DHContext, error)
}

// RFC 3526 MODP groups, generator 2.
const (
	modp2048Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

	modp3072Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AAAC42DAD33170D04507A33" +
		"A85521ABDF1CBA64ECFB850458DBEF0A8AEA71575D060C7DB3970F85A6E1E4C7" +
		"ABF5AE8CDB0933D71E8C94E04A25619DCEE3D2261AD2EE6BF12FFA06D98A0864" +
		"D87602733EC86A64521F2B18177B200CBBE117577A615D6C770988C0BAD946E2" +
		"08E24FA074E5AB3143DB5BFCE0FD108E4B82D120A93AD2CAFFFFFFFFFFFFFFFF"
)

var (
	modp2048, _ = new(big.Int).SetString(modp2048Hex, 16)
	modp3072, _ = new(big.Int).SetString(modp3072Hex, 16)
	dhGenerator = big.NewInt(2)
)

// ffdhContext implements finite-field DH over an RFC 3526 group.
type ffdhContext struct {
	prime  *big.Int
	priv   *big.Int
	public *big.Int
	size   int
}

func newFFDH(prime *big.Int, size int) (DHContext, error) {
	// Exponent of twice the strongest supported symmetric key size,
	// RFC 6189 section 4.4.1.
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	priv := new(big.Int).SetBytes(raw)
	Memzero(raw)

	ctx := &ffdhContext{prime: prime, priv: priv, size: size}
	ctx.public = new(big.Int).Exp(dhGenerator, priv, prime)
	return ctx, nil
}

func (c *ffdhContext) PublicValue() []byte {
	return c.public.FillBytes(make([]byte, c.size))
}

func (c *ffdhContext) SharedSecret(peerPV []byte) ([]byte, error) {
	if len(peerPV) != c.size {
		return nil, ErrWrongPVLength
	}
	pv := new(big.Int).SetBytes(peerPV)

	// Reject 0, 1 and p-1 (and anything >= p): identity and
	// small-subgroup elements.
	pMinus1 := new(big.Int).Sub(c.prime, big.NewInt(1))
	if pv.Cmp(big.NewInt(1)) <= 0 || pv.Cmp(pMinus1) >= 0 {
		return nil, ErrBadPublicValue
	}

	shared := new(big.Int).Exp(pv, c.priv, c.prime)
	out := shared.FillBytes(make([]byte, c.size))
	shared.SetInt64(0)
	return out, nil
}

func (c *ffdhContext) Zero() {
	if c.priv != nil {
		c.priv.SetInt64(0)
	}
}

func newX25519() (DHContext, error) { return newECDH(ecdh.X25519(), false) }
func newP256() (DHContext, error)   { return newECDH(ecdh.P256(), true) }
func newP384() (DHContext, error)   { return newECDH(ecdh.P384(), true) }

// ecdhContext wraps crypto/ecdh for the NIST curves and X25519.
type ecdhContext struct {
	curve ecdh.Curve
	priv  *ecdh.PrivateKey
	nist  bool
}

func newECDH(curve ecdh.Curve, nist bool) (DHContext, error) {
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ecdhContext{curve: curve, priv: priv, nist: nist}, nil
}

func (c *ecdhContext) PublicValue() []byte {
	pub := c.priv.PublicKey().Bytes()
	if c.nist {
		// Strip the 0x04 uncompressed-point marker: ZRTP carries
		// X || Y only.
		return pub[1:]
	}
	return pub
}

func (c *ecdhContext) SharedSecret(peerPV []byte) ([]byte, error) {
	raw := peerPV
	if c.nist {
		raw = append([]byte{4}, peerPV...)
	}
	peer, err := c.curve.NewPublicKey(raw)
	if err != nil {
		return nil, ErrBadPublicValue
	}
	// ECDH returns the X coordinate for NIST curves and the raw
	// 32-byte output for X25519; it rejects low-order inputs.
	shared, err := c.priv.ECDH(peer)
	if err != nil {
		return nil, ErrBadPublicValue
	}
	return shared, nil
}

func (c *ecdhContext) Zero() {
	// crypto/ecdh offers no explicit scrub; drop the reference and
	// let the finalizer-free key go out of scope.
	c.priv = nil
}
