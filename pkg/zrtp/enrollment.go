package zrtp

import (
	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
)

// SetEnrollmentMode arms or disarms PBX enrollment offering for this
// session. Only meaningful on a trusted MitM endpoint; the next
// Confirm carries the E flag while armed.
func (s *Session) SetEnrollmentMode(yes bool) {
	s.enrollmentMode = yes && s.cfg.MitmMode
}

// IsEnrollmentMode reports whether enrollment offering is armed.
func (s *Session) IsEnrollmentMode() bool { return s.enrollmentMode }

// RetryCounters returns the retransmit counts per message class:
// hello, commit, dhpart2, confirm, error, relay, clear.
func (s *Session) RetryCounters() []int { return s.sm.retryCounters() }

// goClearHMAC authenticates a GoClear with the sender's HMAC key over
// the message header, binding it to this session's key material.
func goClearHMAC(mackey []byte, raw []byte) []byte {
	return truncHMAC(mackey, raw[:protocol.HeaderSize])
}

// SendGoClear asks the peer to fall back to clear media. Requires the
// secure state and EnableClear on.
func (s *Session) SendGoClear() error {
	if !s.InSecureState() {
		return ErrNotSecure
	}
	if !s.cfg.EnableClear {
		return ErrNotSecure
	}
	mackey := s.keys.mackeyR
	if s.role == Initiator {
		mackey = s.keys.mackeyI
	}

	g := &protocol.GoClear{}
	raw := g.Encode()
	copy(raw[protocol.HeaderSize:], goClearHMAC(mackey, raw))

	s.sm.sentMessage = raw
	if !s.sendMessage(raw) {
		s.sm.sendFailed()
		return ErrNotSecure
	}
	s.sm.state = WaitClearAck
	s.sm.startTimer(&s.sm.t2)
	return nil
}

// handleGoClear processes an inbound GoClear in the secure state.
func (s *Session) handleGoClear(g *protocol.GoClear, sm *stateMachine) {
	if !s.cfg.EnableClear {
		sm.protocolError(protocol.GoClearNotAllowed)
		return
	}
	mackey := s.keys.mackeyI
	if s.role == Initiator {
		mackey = s.keys.mackeyR
	}
	raw := g.Encode()
	if !crypto.EqualHMAC(goClearHMAC(mackey, raw), g.HMAC[:]) {
		s.cb.SendInfo(SeverityWarning, WarningGoClearReceived)
		return
	}

	s.sendMessage(protocol.NewClearAck().Encode())
	s.cb.SendInfo(SeverityWarning, WarningGoClearReceived)
	sm.secretsOff()
	s.cb.SendInfo(SeverityInfo, InfoSecureStateOff)
	s.wipe()
	sm.state = Initial
}

// SendSASRelay lets an enrolled trusted MitM substitute the SAS on
// this leg of a relayed call. The relayed hash travels inside a
// Confirm-shaped encrypted region.
func (s *Session) SendSASRelay(scheme protocol.AlgorithmID, sasHash []byte) error {
	if !s.cfg.MitmMode {
		return ErrNotMitm
	}
	if !s.InSecureState() {
		return ErrNotSecure
	}

	relay := &protocol.SASRelay{Scheme: scheme}
	copy(relay.SASHash[:], sasHash)
	cryptoRandRead(relay.IV[:])

	inner, err := relay.EncodeInner()
	if err != nil {
		return err
	}
	key, mackey := s.keys.zrtpkeyR, s.keys.mackeyR
	if s.role == Initiator {
		key, mackey = s.keys.zrtpkeyI, s.keys.mackeyI
	}
	if err := s.keys.cipher.Encrypt(key, relay.IV[:], inner); err != nil {
		return err
	}
	relay.Encrypted = inner
	copy(relay.HMAC[:], truncHMAC(mackey, inner))

	raw := relay.Encode()
	s.sm.sentRelay = raw
	s.sm.sentMessage = raw
	if !s.sendMessage(raw) {
		s.sm.sendFailed()
		return ErrNotSecure
	}
	s.sm.subState = subWaitRelayAck
	s.sm.startTimer(&s.sm.t2)
	return nil
}

// handleSASRelay processes an inbound SASrelay: acknowledge always,
// substitute the displayed SAS only when the relay comes from an
// enrolled PBX and paranoid mode is off.
func (s *Session) handleSASRelay(sr *protocol.SASRelay, sm *stateMachine) {
	key, mackey := s.keys.zrtpkeyI, s.keys.mackeyI
	if s.role == Initiator {
		key, mackey = s.keys.zrtpkeyR, s.keys.mackeyR
	}
	if !crypto.EqualHMAC(truncHMAC(mackey, sr.Encrypted), sr.HMAC[:]) {
		s.cb.SendInfo(SeverityWarning, WarningSASRelayUntrusted)
		return
	}
	if err := s.keys.cipher.Decrypt(key, sr.IV[:], sr.Encrypted); err != nil {
		return
	}
	if err := sr.ParseInner(sr.Encrypted); err != nil {
		return
	}

	s.sendMessage(protocol.NewRelayAck().Encode())

	if s.cfg.ParanoidMode {
		s.cb.SendInfo(SeverityWarning, WarningSASRelayIgnored)
		return
	}
	if s.zidRec == nil || !s.zidRec.HasMITMKey() || !s.mitmSeen {
		s.cb.SendInfo(SeverityWarning, WarningSASRelayUntrusted)
		s.cb.NegotiationFailed(SeverityZrtpError, int32(protocol.SASuntrustedMitM))
		return
	}

	sasType := s.reg.SASType(sr.Scheme)
	if sasType == nil {
		s.cb.SendInfo(SeverityWarning, WarningSASRelayIgnored)
		return
	}

	var zero [protocol.HashImageSize]byte
	if sr.SASHash == zero {
		// Zero hash: the PBX confirms our own SAS stays valid.
		return
	}

	var sasValue [4]byte
	copy(sasValue[:], sr.SASHash[:])
	copy(s.keys.sasHash, sr.SASHash[:])
	s.keys.sas = sasType.Render(sasValue)
	s.sasRelayed = true
	s.cb.SRTPSecretsOn(s.sel.Cipher.String(), s.keys.sas, false)
}
