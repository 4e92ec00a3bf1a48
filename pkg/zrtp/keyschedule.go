package zrtp

import (
	"encoding/binary"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
	"github.com/clearline/go-zrtp/pkg/storage"
)

// KDF labels and fixed strings, byte-exact per RFC 6189.
const (
	labelInitiator      = "Initiator"
	labelResponder      = "Responder"
	labelKDF            = "ZRTP-HMAC-KDF"
	labelIniHmacKey     = "Initiator HMAC key"
	labelRespHmacKey    = "Responder HMAC key"
	labelIniZrtpKey     = "Initiator ZRTP key"
	labelRespZrtpKey    = "Responder ZRTP key"
	labelIniMasterKey   = "Initiator SRTP master key"
	labelIniMasterSalt  = "Initiator SRTP master salt"
	labelRespMasterKey  = "Responder SRTP master key"
	labelRespMasterSalt = "Responder SRTP master salt"
	labelRetainedSecret = "retained secret"
	labelSAS            = "SAS"
	labelSessionKey     = "ZRTP Session Key"
	labelExportedKey    = "Exported key"
	labelMSK            = "ZRTP MSK"
	labelTrustedMitm    = "Trusted MiTM key"
)

// srtpSaltLength is fixed at 112 bits by SRTP.
const srtpSaltLength = 14

// Matched/cached secret bits for DetailInfo.
const (
	SecretRS1 uint32 = 1 << iota
	SecretRS2
	SecretPBX
	SecretAux
)

// randomID fills an identifier slot for a secret we do not hold, so
// the field is present but never matches anything.
func randomID(id *[protocol.SecretIDSize]byte) {
	cryptoRandRead(id[:])
}

// secretIDs are the four truncated HMAC identifiers a DHPart carries.
type secretIDs struct {
	rs1 [protocol.SecretIDSize]byte
	rs2 [protocol.SecretIDSize]byte
	aux [protocol.SecretIDSize]byte
	pbx [protocol.SecretIDSize]byte
}

// keyMaterial is everything the key schedule derives for a session.
// All byte slices are scrubbed on session teardown.
type keyMaterial struct {
	hash    *crypto.HashSuite
	cipher  *crypto.CipherSuite
	authTag *crypto.AuthTagSuite
	sasType *crypto.SASSuite

	dhCtx crypto.DHContext
	dhss  []byte

	zidI protocol.ZID
	zidR protocol.ZID

	totalHash []byte
	s0        []byte

	mackeyI  []byte
	mackeyR  []byte
	zrtpkeyI []byte
	zrtpkeyR []byte

	srtpKeyI  []byte
	srtpSaltI []byte
	srtpKeyR  []byte
	srtpSaltR []byte

	newRS1      []byte
	sasHash     []byte
	sas         string
	zrtpSession []byte
	exportedKey []byte
	pbxSecret   []byte
}

// kdfContext is ZIDi || ZIDr || total_hash.
func (k *keyMaterial) kdfContext() []byte {
	ctx := make([]byte, 0, 2*protocol.ZIDSize+len(k.totalHash))
	ctx = append(ctx, k.zidI[:]...)
	ctx = append(ctx, k.zidR[:]...)
	ctx = append(ctx, k.totalHash...)
	return ctx
}

// wipe scrubs all derived material.
func (k *keyMaterial) wipe() {
	crypto.MemzeroAll(k.dhss, k.s0, k.totalHash,
		k.mackeyI, k.mackeyR, k.zrtpkeyI, k.zrtpkeyR,
		k.srtpKeyI, k.srtpSaltI, k.srtpKeyR, k.srtpSaltR,
		k.newRS1, k.sasHash, k.zrtpSession, k.exportedKey, k.pbxSecret)
	if k.dhCtx != nil {
		k.dhCtx.Zero()
		k.dhCtx = nil
	}
	k.sas = ""
}

// retainedSecretIDs computes the rs1/rs2/pbx identifiers of a cache
// record for the given role label, and the aux identifier bound to
// the given H3. Slots for secrets we do not hold are filled with
// random data: the wire format carries the fields either way and a
// random identifier never matches.
func (s *Session) retainedSecretIDs(rec *storage.Record, roleLabel string, h3 []byte) secretIDs {
	var ids secretIDs
	hs := s.keys.hash

	copyID := func(dst *[protocol.SecretIDSize]byte, mac []byte) {
		copy(dst[:], mac[:protocol.SecretIDSize])
	}

	if rec != nil && rec.IsRS1Valid() {
		copyID(&ids.rs1, hs.HMAC(rec.RS1.Secret[:], []byte(roleLabel)))
	} else {
		randomID(&ids.rs1)
	}
	if rec != nil && rec.IsRS2Valid() {
		copyID(&ids.rs2, hs.HMAC(rec.RS2.Secret[:], []byte(roleLabel)))
	} else {
		randomID(&ids.rs2)
	}
	if len(s.auxSecret) > 0 {
		copyID(&ids.aux, hs.HMAC(s.auxSecret, h3))
	} else {
		randomID(&ids.aux)
	}
	if rec != nil && rec.HasMITMKey() {
		copyID(&ids.pbx, hs.HMAC(rec.MITMKey[:], []byte(roleLabel)))
	} else {
		randomID(&ids.pbx)
	}
	return ids
}

// matchedSecrets are the s1/s2/s3 inputs of s0 in priority order.
type matchedSecrets struct {
	s1, s2, s3 []byte
	matched    uint32
}

// matchSecrets compares the peer's DHPart identifiers against the
// counterpart-role identifiers of our cached secrets. RS1 and RS2
// cross-match: the peer may have rotated one step further than us.
func (s *Session) matchSecrets(rec *storage.Record, peer *protocol.DHPart, peerRoleLabel string, peerH3 []byte) matchedSecrets {
	var m matchedSecrets
	hs := s.keys.hash

	idEqual := func(mac []byte, id [protocol.SecretIDSize]byte) bool {
		return crypto.EqualHMAC(mac[:protocol.SecretIDSize], id[:])
	}

	if rec != nil && rec.IsRS1Valid() {
		mac := hs.HMAC(rec.RS1.Secret[:], []byte(peerRoleLabel))
		if idEqual(mac, peer.RS1ID) || idEqual(mac, peer.RS2ID) {
			m.s1 = rec.RS1.Secret[:]
			m.matched |= SecretRS1
		}
	}
	if m.s1 == nil && rec != nil && rec.IsRS2Valid() {
		mac := hs.HMAC(rec.RS2.Secret[:], []byte(peerRoleLabel))
		if idEqual(mac, peer.RS1ID) || idEqual(mac, peer.RS2ID) {
			m.s1 = rec.RS2.Secret[:]
			m.matched |= SecretRS2
		}
	}
	if len(s.auxSecret) > 0 {
		mac := hs.HMAC(s.auxSecret, peerH3)
		if idEqual(mac, peer.AuxSecretID) {
			m.s2 = s.auxSecret
			m.matched |= SecretAux
		}
	}
	if rec != nil && rec.HasMITMKey() {
		mac := hs.HMAC(rec.MITMKey[:], []byte(peerRoleLabel))
		if idEqual(mac, peer.PBXSecretID) {
			m.s3 = rec.MITMKey[:]
			m.matched |= SecretPBX
		}
	}
	return m
}

// computeTotalHash hashes the negotiation transcript: the responder's
// Hello, the Commit and the two DHPart messages, byte-exact as sent
// and received.
func (k *keyMaterial) computeTotalHash(responderHello, commit, dhPart1, dhPart2 []byte) {
	k.totalHash = k.hash.Hash(responderHello, commit, dhPart1, dhPart2)
}

// computeS0 mixes DHss, the transcript and the matched secrets:
//
//	s0 = H(counter || DHss || "ZRTP-HMAC-KDF" || ZIDi || ZIDr ||
//	       total_hash || len(s1) || s1 || len(s2) || s2 || len(s3) || s3)
//
// DHss is scrubbed right after.
func (k *keyMaterial) computeS0(sec matchedSecrets) {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)

	lenField := func(s []byte) []byte {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		return l[:]
	}

	k.s0 = k.hash.Hash(
		counter[:], k.dhss, []byte(labelKDF),
		k.zidI[:], k.zidR[:], k.totalHash,
		lenField(sec.s1), sec.s1,
		lenField(sec.s2), sec.s2,
		lenField(sec.s3), sec.s3,
	)
	crypto.Memzero(k.dhss)
	k.dhss = nil
}

// computeS0MultiStream derives s0 from the master stream's session
// key instead of a DH exchange.
func (k *keyMaterial) computeS0MultiStream(masterSessionKey []byte) {
	k.s0 = k.hash.KDF(masterSessionKey, labelMSK, k.kdfContext(), k.hash.Length*8)
}

// deriveKeys fills in every KDF output of section 4.5.3. The SAS hash
// feeds the negotiated rendering to produce the user-visible string.
func (k *keyMaterial) deriveKeys() {
	ctx := k.kdfContext()
	hashBits := k.hash.Length * 8
	cipherBits := k.cipher.KeyLen * 8

	k.mackeyI = k.hash.KDF(k.s0, labelIniHmacKey, ctx, hashBits)
	k.mackeyR = k.hash.KDF(k.s0, labelRespHmacKey, ctx, hashBits)
	k.zrtpkeyI = k.hash.KDF(k.s0, labelIniZrtpKey, ctx, cipherBits)
	k.zrtpkeyR = k.hash.KDF(k.s0, labelRespZrtpKey, ctx, cipherBits)

	k.srtpKeyI = k.hash.KDF(k.s0, labelIniMasterKey, ctx, cipherBits)
	k.srtpSaltI = k.hash.KDF(k.s0, labelIniMasterSalt, ctx, srtpSaltLength*8)
	k.srtpKeyR = k.hash.KDF(k.s0, labelRespMasterKey, ctx, cipherBits)
	k.srtpSaltR = k.hash.KDF(k.s0, labelRespMasterSalt, ctx, srtpSaltLength*8)

	k.newRS1 = k.hash.KDF(k.s0, labelRetainedSecret, ctx, storage.RSLength*8)
	k.zrtpSession = k.hash.KDF(k.s0, labelSessionKey, ctx, hashBits)
	k.exportedKey = k.hash.KDF(k.s0, labelExportedKey, ctx, hashBits)

	k.sasHash = k.hash.KDF(k.s0, labelSAS, ctx, hashBits)
	var sasValue [4]byte
	copy(sasValue[:], k.sasHash)
	k.sas = k.sasType.Render(sasValue)
}

// derivePBXSecret derives the trusted MitM key persisted on
// enrollment acceptance.
func (k *keyMaterial) derivePBXSecret() []byte {
	k.pbxSecret = k.hash.KDF(k.s0, labelTrustedMitm, k.kdfContext(), storage.RSLength*8)
	return k.pbxSecret
}
