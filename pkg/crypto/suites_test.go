package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

func offerHello(kas ...string) *protocol.Hello {
	h := &protocol.Hello{
		Hashes:   []protocol.AlgorithmID{protocol.Algo("S256"), protocol.Algo("S384")},
		Ciphers:  []protocol.AlgorithmID{protocol.Algo("AES1"), protocol.Algo("2FS1")},
		AuthTags: []protocol.AlgorithmID{protocol.Algo("HS32"), protocol.Algo("HS80"), protocol.Algo("SK32")},
		SASTypes: []protocol.AlgorithmID{protocol.Algo("B32"), protocol.Algo("B256")},
	}
	for _, ka := range kas {
		h.KeyAgreements = append(h.KeyAgreements, protocol.Algo(ka))
	}
	return h
}

func TestNegotiateStandard(t *testing.T) {
	r := Standard()
	sel := r.Negotiate(r.DefaultSelections(), offerHello("DH3k", "E255"), PolicyStandard)

	assert.Equal(t, protocol.Algo("DH3k"), sel.KeyAgreement)
	assert.Equal(t, protocol.Algo("S256"), sel.Hash)
	assert.Equal(t, protocol.Algo("AES1"), sel.Cipher)
	assert.Equal(t, protocol.Algo("HS32"), sel.AuthTag)
	assert.Equal(t, protocol.Algo("B32"), sel.SASType)
}

func TestNegotiateNonNISTPolicy(t *testing.T) {
	r := Standard()
	local := r.DefaultSelections()

	// Peer only offers the non-NIST curve: the policy must pull the
	// cipher and auth tag towards the non-NIST family.
	sel := r.Negotiate(local, offerHello("E255"), PolicyNonNIST)
	assert.Equal(t, protocol.Algo("E255"), sel.KeyAgreement)
	assert.Equal(t, protocol.Algo("2FS1"), sel.Cipher)
	assert.Equal(t, protocol.Algo("SK32"), sel.AuthTag)

	// Same offer under the standard policy keeps AES.
	sel = r.Negotiate(local, offerHello("E255"), PolicyStandard)
	assert.Equal(t, protocol.Algo("AES1"), sel.Cipher)

	// A NIST key agreement disables the preference even under the
	// non-NIST policy.
	sel = r.Negotiate(local, offerHello("EC25"), PolicyNonNIST)
	assert.Equal(t, protocol.Algo("EC25"), sel.KeyAgreement)
	assert.Equal(t, protocol.Algo("AES1"), sel.Cipher)
}

func TestNegotiateFallbackToMandatory(t *testing.T) {
	r := Standard()
	offer := &protocol.Hello{
		Hashes:        []protocol.AlgorithmID{protocol.Algo("SKN2")},
		Ciphers:       []protocol.AlgorithmID{protocol.Algo("XXX1")},
		AuthTags:      []protocol.AlgorithmID{protocol.Algo("XXX2")},
		KeyAgreements: []protocol.AlgorithmID{protocol.Algo("SDH5")},
		SASTypes:      []protocol.AlgorithmID{protocol.Algo("B32E")},
	}
	sel := r.Negotiate(r.DefaultSelections(), offer, PolicyStandard)

	assert.Equal(t, MandatoryHash, sel.Hash)
	assert.Equal(t, MandatoryCipher, sel.Cipher)
	assert.Equal(t, MandatoryAuthTag, sel.AuthTag)
	assert.Equal(t, MandatoryKeyAgreement, sel.KeyAgreement)
	assert.Equal(t, MandatorySASType, sel.SASType)
}

func TestKDFTruncationAndDomains(t *testing.T) {
	s256 := Standard().Hash(protocol.Algo("S256"))
	ki := []byte("0123456789abcdef0123456789abcdef")
	ctx := []byte("context bytes")

	full := s256.KDF(ki, "Initiator HMAC key", ctx, 256)
	require.Len(t, full, 32)

	half := s256.KDF(ki, "Initiator HMAC key", ctx, 128)
	require.Len(t, half, 16)
	// The length field is an KDF input, so the short output is not a
	// prefix of the long one.
	assert.NotEqual(t, full[:16], half)

	other := s256.KDF(ki, "Responder HMAC key", ctx, 256)
	assert.NotEqual(t, full, other)

	again := s256.KDF(ki, "Initiator HMAC key", ctx, 256)
	assert.Equal(t, full, again)
}

func TestDHSharedSecretAgreement(t *testing.T) {
	r := Standard()
	for _, ka := range r.KeyAgreements {
		ka := ka
		t.Run(ka.ID.String(), func(t *testing.T) {
			a, err := ka.New()
			require.NoError(t, err)
			b, err := ka.New()
			require.NoError(t, err)

			require.Len(t, a.PublicValue(), ka.PVLen)

			s1, err := a.SharedSecret(b.PublicValue())
			require.NoError(t, err)
			s2, err := b.SharedSecret(a.PublicValue())
			require.NoError(t, err)
			assert.Equal(t, s1, s2)
			assert.NotZero(t, s1)
		})
	}
}

func TestFFDHRejectsDegeneratePV(t *testing.T) {
	r := Standard()
	ka := r.KeyAgreement(protocol.Algo("DH3k"))
	ctx, err := ka.New()
	require.NoError(t, err)

	zero := make([]byte, ka.PVLen)
	_, err = ctx.SharedSecret(zero)
	assert.ErrorIs(t, err, ErrBadPublicValue)

	one := make([]byte, ka.PVLen)
	one[ka.PVLen-1] = 1
	_, err = ctx.SharedSecret(one)
	assert.ErrorIs(t, err, ErrBadPublicValue)

	_, err = ctx.SharedSecret([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrWrongPVLength)
}

func TestECDHRejectsBadPoint(t *testing.T) {
	r := Standard()
	ka := r.KeyAgreement(protocol.Algo("EC25"))
	ctx, err := ka.New()
	require.NoError(t, err)

	notOnCurve := make([]byte, ka.PVLen)
	notOnCurve[0] = 0xff
	_, err = ctx.SharedSecret(notOnCurve)
	assert.ErrorIs(t, err, ErrBadPublicValue)
}

func TestCipherRoundTrip(t *testing.T) {
	r := Standard()
	iv := make([]byte, protocol.IVSize)
	for i := range iv {
		iv[i] = byte(i)
	}

	for _, cs := range r.Ciphers {
		cs := cs
		t.Run(cs.ID.String(), func(t *testing.T) {
			key := make([]byte, cs.KeyLen)
			for i := range key {
				key[i] = byte(i * 3)
			}
			plain := []byte("confirm packet encrypted region, word aligned...")
			data := append([]byte(nil), plain...)

			require.NoError(t, cs.Encrypt(key, iv, data))
			assert.NotEqual(t, plain, data)
			require.NoError(t, cs.Decrypt(key, iv, data))
			assert.Equal(t, plain, data)

			assert.Error(t, cs.Encrypt(key[:1], iv, data))
		})
	}
}

func TestSASRendering(t *testing.T) {
	r := Standard()
	v := [4]byte{0x00, 0x00, 0x00, 0x00}

	b32 := r.SASType(protocol.Algo("B32")).Render(v)
	assert.Equal(t, "yyyy", b32)

	b256 := r.SASType(protocol.Algo("B256")).Render([4]byte{0x00, 0x01, 0x00, 0x00})
	assert.Equal(t, "aardvark:adviser", b256)

	b10d := r.SASType(protocol.Algo("B10D")).Render([4]byte{0x00, 0x00, 0x00, 0x2a})
	assert.Equal(t, "000042", b10d)

	// Values that differ within the leftmost 20 bits render distinctly.
	assert.NotEqual(t,
		r.SASType(protocol.Algo("B32")).Render([4]byte{0xde, 0xad, 0xbe, 0xef}),
		r.SASType(protocol.Algo("B32")).Render([4]byte{0xde, 0xad, 0xae, 0xef}))
}

func TestSASRenderingIgnoresTrailingBits(t *testing.T) {
	// B32 uses only the leftmost 20 bits.
	r := Standard()
	a := r.SASType(protocol.Algo("B32")).Render([4]byte{0x12, 0x34, 0x5f, 0xff})
	b := r.SASType(protocol.Algo("B32")).Render([4]byte{0x12, 0x34, 0x50, 0x00})
	assert.Equal(t, a, b)
}

func TestMemzero(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	other := []byte{5, 6}
	MemzeroAll(buf, other)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
	assert.Equal(t, []byte{0, 0}, other)
}

func TestEqualHMAC(t *testing.T) {
	full := ImplicitHMAC([]byte("key"), []byte("data"))
	assert.True(t, EqualHMAC(full[:8], full))
	assert.False(t, EqualHMAC([]byte{0, 0, 0, 0, 0, 0, 0, 0}, full))
}

func TestImplicitHashChain(t *testing.T) {
	h0 := ImplicitHash([]byte("seed"))
	h1 := ImplicitHash(h0)
	h2 := ImplicitHash(h1)
	require.Len(t, h2, ImplicitHashLength)
	assert.NotEqual(t, h1, h2)
}
