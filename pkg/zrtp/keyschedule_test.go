package zrtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
	"github.com/clearline/go-zrtp/pkg/storage"
)

func testSession(t *testing.T, zid protocol.ZID) *Session {
	t.Helper()
	cache := storage.NewMemoryCache()
	_, err := cache.Open("")
	require.NoError(t, err)

	s, err := NewSession(zid, newHostCallback(), DefaultConfig(cache))
	require.NoError(t, err)
	require.Zero(t, s.bindSelection(crypto.Selection{
		Hash:         protocol.Algo("S256"),
		Cipher:       protocol.Algo("AES1"),
		AuthTag:      protocol.Algo("HS32"),
		KeyAgreement: protocol.Algo("DH3k"),
		SASType:      protocol.Algo("B32"),
	}))
	s.generateHashChain()
	return s
}

func recordWithRS1(zid protocol.ZID, seed byte) *storage.Record {
	rec := storage.NewRecord(zid)
	rs := make([]byte, storage.RSLength)
	for i := range rs {
		rs[i] = seed
	}
	rec.ShiftRS1(rs, storage.TTLIndefinite)
	return rec
}

// The responder-role identifiers a peer sends must match against the
// counterpart record holding the same secret.
func TestRetainedSecretIDsMatch(t *testing.T) {
	alice := testSession(t, aliceZID)
	bob := testSession(t, bobZID)

	recA := recordWithRS1(bobZID, 0x11)
	recB := recordWithRS1(aliceZID, 0x11) // same shared RS1

	ids := bob.retainedSecretIDs(recB, labelResponder, bob.h3[:])
	dh := &protocol.DHPart{Part: 1, RS1ID: ids.rs1, RS2ID: ids.rs2, AuxSecretID: ids.aux, PBXSecretID: ids.pbx}

	m := alice.matchSecrets(recA, dh, labelResponder, bob.h3[:])
	assert.NotZero(t, m.matched&SecretRS1)
	require.NotNil(t, m.s1)
	assert.Equal(t, recA.RS1.Secret[:], m.s1)
}

// A peer one rotation ahead still matches through its RS2 slot.
func TestRetainedSecretCrossMatch(t *testing.T) {
	alice := testSession(t, aliceZID)
	bob := testSession(t, bobZID)

	recA := recordWithRS1(bobZID, 0x22) // alice still holds the old secret

	recB := recordWithRS1(aliceZID, 0x22)
	fresh := make([]byte, storage.RSLength)
	fresh[0] = 0x33
	recB.ShiftRS1(fresh, storage.TTLIndefinite) // bob rotated once more

	ids := bob.retainedSecretIDs(recB, labelResponder, bob.h3[:])
	dh := &protocol.DHPart{Part: 1, RS1ID: ids.rs1, RS2ID: ids.rs2, AuxSecretID: ids.aux, PBXSecretID: ids.pbx}

	m := alice.matchSecrets(recA, dh, labelResponder, bob.h3[:])
	assert.NotZero(t, m.matched&SecretRS1, "old RS1 must match the peer's RS2")
}

// Unrelated secrets must not match, and the unavailable slots carry
// unmatchable identifiers.
func TestRetainedSecretsNoFalseMatch(t *testing.T) {
	alice := testSession(t, aliceZID)
	bob := testSession(t, bobZID)

	recA := recordWithRS1(bobZID, 0x44)
	recB := recordWithRS1(aliceZID, 0x55) // different secret

	ids := bob.retainedSecretIDs(recB, labelResponder, bob.h3[:])
	dh := &protocol.DHPart{Part: 1, RS1ID: ids.rs1, RS2ID: ids.rs2, AuxSecretID: ids.aux, PBXSecretID: ids.pbx}

	m := alice.matchSecrets(recA, dh, labelResponder, bob.h3[:])
	assert.Zero(t, m.matched)
	assert.Nil(t, m.s1)
}

// Both roles derive identical key material from the same inputs.
func TestKeyScheduleSymmetry(t *testing.T) {
	ini := testSession(t, aliceZID)
	resp := testSession(t, bobZID)

	transcript := [][]byte{
		[]byte("responder hello bytes"),
		[]byte("commit bytes"),
		[]byte("dhpart1 bytes"),
		[]byte("dhpart2 bytes"),
	}
	dhss := make([]byte, 384)
	for i := range dhss {
		dhss[i] = byte(i)
	}

	for _, s := range []*Session{ini, resp} {
		s.keys.zidI = aliceZID
		s.keys.zidR = bobZID
		s.keys.dhss = append([]byte(nil), dhss...)
		s.keys.computeTotalHash(transcript[0], transcript[1], transcript[2], transcript[3])
		s.keys.computeS0(matchedSecrets{})
		s.keys.deriveKeys()
	}

	assert.Equal(t, ini.keys.s0, resp.keys.s0)
	assert.Equal(t, ini.keys.mackeyI, resp.keys.mackeyI)
	assert.Equal(t, ini.keys.srtpKeyI, resp.keys.srtpKeyI)
	assert.Equal(t, ini.keys.srtpSaltR, resp.keys.srtpSaltR)
	assert.Equal(t, ini.keys.newRS1, resp.keys.newRS1)
	assert.Equal(t, ini.keys.sas, resp.keys.sas)

	// Role keys are distinct from each other.
	assert.NotEqual(t, ini.keys.mackeyI, ini.keys.mackeyR)
	assert.NotEqual(t, ini.keys.srtpKeyI, ini.keys.srtpKeyR)

	// DHss must be gone right after s0.
	assert.Nil(t, ini.keys.dhss)
}

// A matched retained secret changes s0; an unmatched one leaves only
// the zero-length fields.
func TestS0DependsOnMatchedSecrets(t *testing.T) {
	s := testSession(t, aliceZID)
	s.keys.zidI = aliceZID
	s.keys.zidR = bobZID
	s.keys.computeTotalHash([]byte("a"), []byte("b"), []byte("c"), []byte("d"))

	s.keys.dhss = []byte("shared secret one")
	s.keys.computeS0(matchedSecrets{})
	plain := s.keys.s0

	rs := make([]byte, storage.RSLength)
	rs[0] = 0x99
	s.keys.dhss = []byte("shared secret one")
	s.keys.computeS0(matchedSecrets{s1: rs, matched: SecretRS1})
	assert.NotEqual(t, plain, s.keys.s0)
}

// The hash chain H1..H3 derives from H0 by repeated hashing.
func TestHashChainGeneration(t *testing.T) {
	s := testSession(t, aliceZID)
	assert.Equal(t, crypto.ImplicitHash(s.h0[:]), s.h1[:])
	assert.Equal(t, crypto.ImplicitHash(s.h1[:]), s.h2[:])
	assert.Equal(t, crypto.ImplicitHash(s.h2[:]), s.h3[:])
}

// Temporal HMAC: a stored message verifies under the disclosed key
// and fails once a single bit flips.
func TestTemporalHMACOverStoredBytes(t *testing.T) {
	key := []byte("disclosed hash image............")
	msg := make([]byte, 64)
	for i := range msg {
		msg[i] = byte(i)
	}
	authenticate(msg, key)
	require.True(t, verifyTrailingHMAC(msg, key))

	msg[10] ^= 0x01
	assert.False(t, verifyTrailingHMAC(msg, key))
}
