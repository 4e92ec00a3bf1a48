package zrtp

import (
	"bytes"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
	"github.com/clearline/go-zrtp/pkg/storage"
)

// codeOK marks successful processing; any other value is sent to the
// peer as an Error message and fails the session.
const codeOK protocol.ErrorCode = 0

// truncHMAC computes the 8-byte message HMAC under the implicit hash.
func truncHMAC(key, msg []byte) []byte {
	return crypto.ImplicitHMAC(key, msg)[:protocol.HMACSize]
}

// authenticate applies the trailing HMAC of an encoded message keyed
// with the next hash chain image.
func authenticate(raw []byte, key []byte) []byte {
	mac := truncHMAC(key, raw[:len(raw)-protocol.HMACSize])
	protocol.SetHMAC(raw, mac)
	return raw
}

// verifyTrailingHMAC recomputes the trailing HMAC of a stored message
// under a freshly disclosed hash image.
func verifyTrailingHMAC(raw []byte, key []byte) bool {
	if len(raw) < protocol.HMACSize {
		return false
	}
	mac := truncHMAC(key, raw[:len(raw)-protocol.HMACSize])
	return crypto.EqualHMAC(mac, raw[len(raw)-protocol.HMACSize:])
}

// hashImageStep verifies image == hash(preimage), both truncated to
// the stored 32 bytes.
func hashImageStep(preimage, image []byte) bool {
	computed := crypto.ImplicitHash(preimage)
	return bytes.Equal(computed[:protocol.HashImageSize], image[:protocol.HashImageSize])
}

// processHello validates the peer's Hello and looks up its cache
// record. Runs once; retransmitted Hellos are absorbed upstream.
func (s *Session) processHello(hello *protocol.Hello, raw []byte) protocol.ErrorCode {
	if string(hello.Version[:]) != protocol.Version {
		return protocol.UnsuppZRTPVersion
	}
	if hello.ZID == s.ownZID {
		return protocol.EqualZIDHello
	}
	if len(hello.Hashes) > 7 || len(hello.Ciphers) > 7 || len(hello.AuthTags) > 7 ||
		len(hello.KeyAgreements) > 7 || len(hello.SASTypes) > 7 {
		return protocol.UnsuppComponent
	}

	s.peerHello = hello
	s.peerHelloRaw.set(raw)
	s.peerZID = hello.ZID
	s.peerH3 = hello.H3
	s.mitmSeen = hello.IsMitm()
	s.peerDisclosure = hello.IsDisclosure()
	s.peerClientID = string(bytes.TrimRight(hello.ClientID[:], " "))
	s.peerVersion = string(hello.Version[:])

	for _, ka := range hello.KeyAgreements {
		if ka == crypto.KeyAgreementMulti {
			s.multiStreamAvailable = true
		}
	}

	rec, err := s.cache.Record(s.peerZID)
	if err != nil {
		return protocol.CriticalSWError
	}
	s.zidRec = rec

	s.cb.SendInfo(SeverityInfo, InfoHelloReceived)
	return codeOK
}

// fillCachedDetail records which secrets we hold before matching.
func (s *Session) fillCachedDetail() {
	s.detail.SecretsCached = 0
	if s.zidRec.IsRS1Valid() {
		s.detail.SecretsCached |= SecretRS1
	}
	if s.zidRec.IsRS2Valid() {
		s.detail.SecretsCached |= SecretRS2
	}
	if s.zidRec.HasMITMKey() {
		s.detail.SecretsCached |= SecretPBX
	}
	if len(s.auxSecret) > 0 {
		s.detail.SecretsCached |= SecretAux
	}
}

// bindSelection resolves the negotiated quintuple into suite handles.
func (s *Session) bindSelection(sel crypto.Selection) protocol.ErrorCode {
	s.keys.hash = s.reg.Hash(sel.Hash)
	if s.keys.hash == nil {
		return protocol.UnsuppHashType
	}
	s.keys.cipher = s.reg.Cipher(sel.Cipher)
	if s.keys.cipher == nil {
		return protocol.UnsuppCipherType
	}
	s.keys.authTag = s.reg.AuthTag(sel.AuthTag)
	if s.keys.authTag == nil {
		return protocol.UnsuppSRTPAuthTag
	}
	s.keys.sasType = s.reg.SASType(sel.SASType)
	if s.keys.sasType == nil {
		return protocol.UnsuppSASScheme
	}
	s.sel = sel
	s.detail.Hash = sel.Hash.String()
	s.detail.Cipher = sel.Cipher.String()
	s.detail.PubKey = sel.KeyAgreement.String()
	s.detail.SASType = sel.SASType.String()
	s.detail.AuthLength = sel.AuthTag.String()
	return codeOK
}

// prepareCommit builds the Commit and the DHPart2 it commits to. The
// initiator's DHPart2 must exist before the Commit because
// hvi = H(DHPart2 || responder's Hello).
func (s *Session) prepareCommit() ([]byte, protocol.ErrorCode) {
	if s.multiStream {
		return s.prepareCommitMultiStream()
	}

	sel := s.reg.Negotiate(s.cfg.Selections, s.peerHello, s.cfg.Policy)
	if code := s.bindSelection(sel); code != codeOK {
		return nil, code
	}
	ka := s.reg.KeyAgreement(sel.KeyAgreement)
	if ka == nil {
		return nil, protocol.UnsuppPKExchange
	}

	dhCtx, err := ka.New()
	if err != nil {
		return nil, protocol.CriticalSWError
	}
	s.keys.dhCtx = dhCtx
	s.fillCachedDetail()

	// Build DHPart2 now, under the initiator role.
	ids := s.retainedSecretIDs(s.zidRec, labelInitiator, s.h3[:])
	s.dhPart2 = &protocol.DHPart{
		Part:        2,
		H1:          s.h1,
		RS1ID:       ids.rs1,
		RS2ID:       ids.rs2,
		AuxSecretID: ids.aux,
		PBXSecretID: ids.pbx,
		PV:          dhCtx.PublicValue(),
	}
	dh2Raw := authenticate(s.dhPart2.Encode(), s.h0[:])
	s.sentDHPart2.set(dh2Raw)

	hvi := s.keys.hash.Hash(dh2Raw, s.peerHelloRaw.raw)
	s.commit = &protocol.Commit{
		H2:           s.h2,
		ZID:          s.ownZID,
		Hash:         sel.Hash,
		Cipher:       sel.Cipher,
		AuthTag:      sel.AuthTag,
		KeyAgreement: sel.KeyAgreement,
		SASType:      sel.SASType,
	}
	copy(s.commit.HVI[:], hvi)

	raw := authenticate(s.commit.Encode(), s.h1[:])
	s.sentCommit.set(raw)
	s.cb.SendInfo(SeverityInfo, InfoCommitGenerated)
	return raw, codeOK
}

// prepareCommitMultiStream builds a multi-stream Commit with a fresh
// nonce, keyed off the master session parameters.
func (s *Session) prepareCommitMultiStream() ([]byte, protocol.ErrorCode) {
	if code := s.bindSelection(s.sel); code != codeOK {
		return nil, code
	}
	s.fillCachedDetail()

	s.commit = &protocol.Commit{
		H2:           s.h2,
		ZID:          s.ownZID,
		Hash:         s.sel.Hash,
		Cipher:       s.sel.Cipher,
		AuthTag:      s.sel.AuthTag,
		KeyAgreement: crypto.KeyAgreementMulti,
		SASType:      s.sel.SASType,
	}
	cryptoRandRead(s.commit.Nonce[:])

	raw := authenticate(s.commit.Encode(), s.h1[:])
	s.sentCommit.set(raw)
	s.cb.SendInfo(SeverityInfo, InfoCommitGenerated)
	return raw, codeOK
}

// processCommit validates the initiator's Commit on the responder
// path: hash chain, temporal HMAC of the peer's Hello, negotiated
// algorithm sanity, and in multi-stream mode nonce freshness.
func (s *Session) processCommit(c *protocol.Commit, raw []byte) protocol.ErrorCode {
	if c.ZID != s.peerZID {
		return protocol.MalformedPacket
	}
	if !hashImageStep(c.H2[:], s.peerH3[:]) {
		return protocol.CriticalSWError
	}
	s.peerH2 = c.H2
	if !verifyTrailingHMAC(s.peerHelloRaw.raw, s.peerH2[:]) {
		return protocol.CriticalSWError
	}

	if c.IsMultiStream() != s.multiStream {
		return protocol.UnsuppPKExchange
	}
	if s.multiStream {
		if s.seenNonces[c.Nonce] {
			return protocol.NonceReused
		}
		s.seenNonces[c.Nonce] = true
		if c.Hash != s.sel.Hash || c.Cipher != s.sel.Cipher || c.AuthTag != s.sel.AuthTag {
			return protocol.HelloCompMismatch
		}
	} else {
		sel := crypto.Selection{
			Hash:         c.Hash,
			Cipher:       c.Cipher,
			AuthTag:      c.AuthTag,
			KeyAgreement: c.KeyAgreement,
			SASType:      c.SASType,
		}
		if s.reg.KeyAgreement(sel.KeyAgreement) == nil {
			return protocol.UnsuppPKExchange
		}
		if code := s.bindSelection(sel); code != codeOK {
			return code
		}
	}

	s.peerCommit = c
	s.peerCommitRaw.set(raw)
	s.fillCachedDetail()
	s.cb.SendInfo(SeverityInfo, InfoRespCommitReceived)
	return codeOK
}

// compareCommit orders two contending Commits: hvi (DH mode) or
// nonces (multi-stream) as big-endian integers. The caller treats
// zero as a protocol violation.
func (s *Session) compareCommit(theirs *protocol.Commit) int {
	if s.multiStream {
		return bytes.Compare(s.commit.Nonce[:], theirs.Nonce[:])
	}
	return bytes.Compare(s.commit.HVI[:], theirs.HVI[:])
}

// prepareDHPart1 builds the responder's half of the DH exchange.
func (s *Session) prepareDHPart1() ([]byte, protocol.ErrorCode) {
	ka := s.reg.KeyAgreement(s.sel.KeyAgreement)
	if ka == nil {
		return nil, protocol.UnsuppPKExchange
	}
	dhCtx, err := ka.New()
	if err != nil {
		return nil, protocol.CriticalSWError
	}
	s.keys.dhCtx = dhCtx

	ids := s.retainedSecretIDs(s.zidRec, labelResponder, s.h3[:])
	s.dhPart1 = &protocol.DHPart{
		Part:        1,
		H1:          s.h1,
		RS1ID:       ids.rs1,
		RS2ID:       ids.rs2,
		AuxSecretID: ids.aux,
		PBXSecretID: ids.pbx,
		PV:          dhCtx.PublicValue(),
	}
	raw := authenticate(s.dhPart1.Encode(), s.h0[:])
	s.sentDHPart1.set(raw)
	s.cb.SendInfo(SeverityInfo, InfoDHPart1Generated)
	return raw, codeOK
}

// processDHPart1 runs on the initiator when the responder's half
// arrives: hash chain and Hello HMAC verification, public value
// validation, shared secret, and the full key schedule.
func (s *Session) processDHPart1(d *protocol.DHPart, raw []byte) protocol.ErrorCode {
	// H2 = H(H1) must chain into the H3 from the responder's Hello,
	// and H2 retroactively authenticates that Hello.
	s.peerH1 = d.H1
	peerH2 := crypto.ImplicitHash(d.H1[:])
	copy(s.peerH2[:], peerH2)
	if !hashImageStep(s.peerH2[:], s.peerH3[:]) {
		return protocol.CriticalSWError
	}
	if !verifyTrailingHMAC(s.peerHelloRaw.raw, s.peerH2[:]) {
		return protocol.CriticalSWError
	}

	ka := s.reg.KeyAgreement(s.sel.KeyAgreement)
	if len(d.PV) != ka.PVLen {
		return protocol.DHErrorWrongPV
	}
	dhss, err := s.keys.dhCtx.SharedSecret(d.PV)
	if err != nil {
		return protocol.DHErrorWrongPV
	}
	s.keys.dhss = dhss

	s.peerDHPart1 = d
	s.peerDHPart1Raw.set(raw)

	s.keys.zidI = s.ownZID
	s.keys.zidR = s.peerZID
	s.keys.computeTotalHash(s.peerHelloRaw.raw, s.sentCommit.raw, raw, s.sentDHPart2.raw)

	sec := s.matchSecrets(s.zidRec, d, labelResponder, s.peerH3[:])
	s.reportSecretMatch(sec)
	s.keys.computeS0(sec)
	s.keys.deriveKeys()
	if s.cfg.SASSignSupport {
		s.cb.SignSAS(s.keys.sasHash)
	}
	return codeOK
}

// processDHPart2 runs on the responder when the initiator's half
// arrives: chain and Commit HMAC verification, the hvi commitment
// re-check, and the key schedule.
func (s *Session) processDHPart2(d *protocol.DHPart, raw []byte) protocol.ErrorCode {
	s.peerH1 = d.H1
	if !hashImageStep(d.H1[:], s.peerH2[:]) {
		return protocol.CriticalSWError
	}
	if !verifyTrailingHMAC(s.peerCommitRaw.raw, s.peerH1[:]) {
		return protocol.CriticalSWError
	}

	// The Commit locked the initiator to exactly this DHPart2.
	hvi := s.keys.hash.Hash(raw, s.sentHello.raw)
	if !bytes.Equal(hvi[:protocol.HVISize], s.peerCommit.HVI[:]) {
		return protocol.DHErrorWrongHVI
	}

	ka := s.reg.KeyAgreement(s.sel.KeyAgreement)
	if len(d.PV) != ka.PVLen {
		return protocol.DHErrorWrongPV
	}
	dhss, err := s.keys.dhCtx.SharedSecret(d.PV)
	if err != nil {
		return protocol.DHErrorWrongPV
	}
	s.keys.dhss = dhss

	s.peerDHPart2 = d
	s.peerDHPart2Raw.set(raw)

	s.keys.zidI = s.peerZID
	s.keys.zidR = s.ownZID
	s.keys.computeTotalHash(s.sentHello.raw, s.peerCommitRaw.raw, s.sentDHPart1.raw, raw)

	sec := s.matchSecrets(s.zidRec, d, labelInitiator, s.peerH3[:])
	s.reportSecretMatch(sec)
	s.keys.computeS0(sec)
	s.keys.deriveKeys()
	s.cb.SendInfo(SeverityInfo, InfoDHPart2Received)
	if s.cfg.SASSignSupport {
		s.cb.SignSAS(s.keys.sasHash)
	}
	return codeOK
}

func (s *Session) reportSecretMatch(sec matchedSecrets) {
	s.detail.SecretsMatched = sec.matched
	if sec.matched&(SecretRS1|SecretRS2) == 0 {
		if s.zidRec.IsRS1Valid() {
			// We expected continuity and did not get it; possible
			// man in the middle, surface loudly.
			s.cb.SendInfo(SeverityWarning, WarningNoExpectedRSMatch)
		} else {
			s.cb.SendInfo(SeverityWarning, WarningNoRSMatch)
		}
	}
}

// deriveMultiStreamKeys runs the reduced multi-stream schedule once
// both Hellos and the Commit are on file.
func (s *Session) deriveMultiStreamKeys(initiator bool) protocol.ErrorCode {
	if len(s.masterSessionKey) == 0 {
		return protocol.CriticalSWError
	}
	if initiator {
		s.keys.zidI = s.ownZID
		s.keys.zidR = s.peerZID
		s.keys.totalHash = s.keys.hash.Hash(s.peerHelloRaw.raw, s.sentCommit.raw)
	} else {
		s.keys.zidI = s.peerZID
		s.keys.zidR = s.ownZID
		s.keys.totalHash = s.keys.hash.Hash(s.sentHello.raw, s.peerCommitRaw.raw)
	}
	s.keys.computeS0MultiStream(s.masterSessionKey)
	s.keys.deriveKeys()
	// Multi-stream inherits the master's SAS; nothing new to show.
	s.keys.sas = ""
	return codeOK
}

// prepareConfirm builds Confirm1 (responder) or Confirm2 (initiator):
// inner fields encrypted under the own-role ZRTP key, outer HMAC
// under the own-role HMAC key.
func (s *Session) prepareConfirm(part int) ([]byte, protocol.ErrorCode) {
	c := &protocol.Confirm{Part: part, H0: s.h0, Expiry: s.confirmExpiry()}
	cryptoRandRead(c.IV[:])

	if s.zidRec.IsSASVerified() && !s.cfg.ParanoidMode {
		c.Flags |= protocol.ConfirmFlagSASVerified
	}
	if s.cfg.EnableClear {
		c.Flags |= protocol.ConfirmFlagAllowClear
	}
	if s.cfg.Disclosure {
		c.Flags |= protocol.ConfirmFlagDisclosure
	}
	if s.cfg.MitmMode && s.enrollmentMode {
		c.Flags |= protocol.ConfirmFlagPBXEnrollment
	}
	if s.cfg.SASSignSupport && s.signatureData != nil {
		c.Signature = s.signatureData
	}

	inner, err := c.EncodeInner()
	if err != nil {
		return nil, protocol.CriticalSWError
	}

	key, mackey := s.keys.zrtpkeyR, s.keys.mackeyR
	if s.role == Initiator {
		key, mackey = s.keys.zrtpkeyI, s.keys.mackeyI
	}
	if err := s.keys.cipher.Encrypt(key, c.IV[:], inner); err != nil {
		return nil, protocol.CriticalSWError
	}
	c.Encrypted = inner
	copy(c.HMAC[:], truncHMAC(mackey, inner))

	return c.Encode(), codeOK
}

func (s *Session) confirmExpiry() uint32 {
	if s.cfg.ExpireTime == 0 {
		return storage.TTLIndefinite
	}
	return s.cfg.ExpireTime
}

// processConfirm verifies and absorbs the peer's Confirm: outer HMAC,
// decryption, H0 chain closure, temporal HMAC of the peer's DHPart,
// SAS-verified propagation and signature checking. On success of a
// DH-mode handshake the cache record rotates to the new RS1;
// multi-stream sessions leave the cache unchanged.
func (s *Session) processConfirm(c *protocol.Confirm) protocol.ErrorCode {
	key, mackey := s.keys.zrtpkeyI, s.keys.mackeyI
	if s.role == Initiator {
		key, mackey = s.keys.zrtpkeyR, s.keys.mackeyR
	}

	if !crypto.EqualHMAC(truncHMAC(mackey, c.Encrypted), c.HMAC[:]) {
		return protocol.ConfirmHMACWrong
	}
	if err := s.keys.cipher.Decrypt(key, c.IV[:], c.Encrypted); err != nil {
		return protocol.CriticalSWError
	}
	if err := c.ParseInner(c.Encrypted); err != nil {
		return protocol.MalformedPacket
	}

	s.peerH0 = c.H0
	if !s.multiStream {
		if !hashImageStep(c.H0[:], s.peerH1[:]) {
			return protocol.CriticalSWError
		}
		peerDHPart := s.peerDHPart1Raw.raw
		if s.role == Responder {
			peerDHPart = s.peerDHPart2Raw.raw
		}
		if !verifyTrailingHMAC(peerDHPart, c.H0[:]) {
			return protocol.CriticalSWError
		}
	} else {
		// Multi-stream: no DHPart carried H1, so H0 must close the
		// chain through H1 = H(H0) and H2 = H(H1).
		copy(s.peerH1[:], crypto.ImplicitHash(c.H0[:]))
		copy(s.peerH2[:], crypto.ImplicitHash(s.peerH1[:]))
		if s.role == Responder {
			// The initiator's H2 came in its Commit.
			if !hashImageStep(s.peerH1[:], s.peerCommit.H2[:]) {
				return protocol.CriticalSWError
			}
			if !verifyTrailingHMAC(s.peerCommitRaw.raw, s.peerH1[:]) {
				return protocol.CriticalSWError
			}
		} else {
			// The responder never sent a Commit; its chain ends at
			// the Hello H3.
			if !hashImageStep(s.peerH2[:], s.peerH3[:]) {
				return protocol.CriticalSWError
			}
			if !verifyTrailingHMAC(s.peerHelloRaw.raw, s.peerH2[:]) {
				return protocol.CriticalSWError
			}
		}
	}

	// The peer dropping its verified flag drops ours too.
	if c.Flags&protocol.ConfirmFlagSASVerified == 0 && s.zidRec.IsSASVerified() {
		s.zidRec.SetSASVerified(false)
	}

	if c.Signature != nil {
		s.peerSignature = c.Signature
		if s.cfg.SASSignSupport && !s.cb.CheckSASSignature(s.keys.sasHash) {
			s.cb.SendInfo(SeverityWarning, WarningSRTPAuthError)
		}
	}

	if c.Flags&protocol.ConfirmFlagPBXEnrollment != 0 &&
		s.mitmSeen && s.cfg.EnableMitmEnrollment && !s.multiStream {
		s.keys.derivePBXSecret()
		s.enrollPending = true
		s.cb.AskEnrollment(EnrollmentRequest)
	}

	if !s.multiStream {
		s.updateCache()
	}
	if c.Part == 1 {
		s.cb.SendInfo(SeverityInfo, InfoConfirm1Received)
	} else {
		s.cb.SendInfo(SeverityInfo, InfoConfirm2Received)
	}
	return codeOK
}

// updateCache rotates RS1 into RS2 and installs newRS1, exactly once
// per successful handshake.
func (s *Session) updateCache() {
	s.zidRec.ShiftRS1(s.keys.newRS1, s.confirmExpiry())
	if err := s.cache.SaveRecord(s.zidRec); err != nil {
		s.cb.SendInfo(SeverityWarning, WarningNoRSMatch)
	}
}

// srtpSecrets assembles the host-facing key material.
func (s *Session) srtpSecrets() *SRTPSecrets {
	return &SRTPSecrets{
		Cipher:        s.sel.Cipher,
		AuthTag:       s.sel.AuthTag,
		AuthTagBits:   s.keys.authTag.TagBits,
		KeyInitiator:  s.keys.srtpKeyI,
		SaltInitiator: s.keys.srtpSaltI,
		KeyResponder:  s.keys.srtpKeyR,
		SaltResponder: s.keys.srtpSaltR,
		Role:          s.role,
		SAS:           s.keys.sas,
	}
}

// enterSecure delivers the remaining key material and announces the
// secure state.
func (s *Session) enterSecure() bool {
	if !s.cb.SRTPSecretsReady(s.srtpSecrets(), ForSender) {
		return false
	}
	s.cb.SRTPSecretsOn(s.sel.Cipher.String(), s.keys.sas, s.IsSASVerified())
	s.cb.SendInfo(SeverityInfo, InfoSecureStateOn)
	return true
}
