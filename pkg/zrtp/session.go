// Package zrtp implements the endpoint side of the ZRTP key agreement
// protocol (RFC 6189): the protocol engine, the event-driven state
// machine with its retransmission timers, and the cryptographic key
// schedule. The host application supplies packet transport, a timer
// and a ZID cache through the Callback and storage.Cache interfaces
// and receives negotiated SRTP key material, the SAS and status
// events back.
//
// A Session is single-threaded: the host must serialize
// ProcessMessage, ProcessTimeout and the control methods per session.
// The session never blocks and starts no goroutines.
package zrtp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/clearline/go-zrtp/pkg/crypto"
	"github.com/clearline/go-zrtp/pkg/protocol"
	"github.com/clearline/go-zrtp/pkg/storage"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrNotSecure      = errors.New("session not in secure state")
	ErrNotMultiStream = errors.New("session has no multi-stream parameters")
	ErrBadParameters  = errors.New("malformed multi-stream parameters")
	ErrNotEnrollment  = errors.New("no enrollment pending")
	ErrNotMitm        = errors.New("session is not a trusted MitM")
)

func cryptoRandRead(b []byte) {
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
}

// DetailInfo reports the negotiated algorithms and the retained
// secret status of a completed handshake.
type DetailInfo struct {
	SecretsCached  uint32 // Secret* bits for secrets we hold
	SecretsMatched uint32 // Secret* bits the peer proved too
	Hash           string
	Cipher         string
	PubKey         string
	SASType        string
	AuthLength     string
}

// storedMessage keeps the byte-exact wire image of a message until
// the hash image authenticating it arrives.
type storedMessage struct {
	raw []byte
}

func (m *storedMessage) set(raw []byte) {
	m.raw = append(m.raw[:0], raw...)
}

// Session is one ZRTP endpoint of a media stream.
type Session struct {
	cb    Callback
	cfg   Config
	reg   *crypto.Registry
	cache storage.Cache

	ownZID  protocol.ZID
	peerZID protocol.ZID
	role    Role

	// Own hash image chain; h0 is the secret preimage.
	h0, h1, h2, h3 [protocol.HashImageSize]byte

	// Peer images as disclosed so far.
	peerH0, peerH1, peerH2, peerH3 [protocol.HashImageSize]byte

	hello      *protocol.Hello
	sentHello  storedMessage
	peerHello  *protocol.Hello
	peerHelloRaw storedMessage

	commit      *protocol.Commit
	sentCommit  storedMessage
	peerCommit  *protocol.Commit
	peerCommitRaw storedMessage

	dhPart1     *protocol.DHPart
	sentDHPart1 storedMessage
	peerDHPart1 *protocol.DHPart
	peerDHPart1Raw storedMessage

	dhPart2     *protocol.DHPart
	sentDHPart2 storedMessage
	peerDHPart2 *protocol.DHPart
	peerDHPart2Raw storedMessage

	keys keyMaterial
	sel  crypto.Selection

	zidRec    *storage.Record
	auxSecret []byte

	multiStream          bool
	multiStreamAvailable bool
	masterSessionKey     []byte
	seenNonces           map[[protocol.NonceSize]byte]bool

	signatureData *protocol.SignatureBlock
	peerSignature *protocol.SignatureBlock

	mitmSeen        bool
	enrollmentMode  bool
	enrollPending   bool
	sasRelayed      bool
	peerDisclosure  bool
	peerClientID    string
	peerVersion     string
	peerSSRC        uint32

	detail DetailInfo

	assembler  *protocol.Assembler
	frameBatch uint8

	sm      *stateMachine
	started bool
}

// NewSession creates a session for one media stream. The cache must
// already be open; ownZID is the local identifier it returned.
func NewSession(ownZID protocol.ZID, cb Callback, cfg Config) (*Session, error) {
	if cb == nil {
		return nil, ErrNoCallback
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cb:         cb,
		cfg:        cfg,
		reg:        cfg.Registry,
		cache:      cfg.Cache,
		ownZID:     ownZID,
		seenNonces: make(map[[protocol.NonceSize]byte]bool),
		assembler:  protocol.NewAssembler(),
	}
	s.sm = newStateMachine(s)
	return s, nil
}

// Start generates the hash chain and the Hello message and begins
// discovery. Idempotent while running.
func (s *Session) Start() {
	if s.started {
		s.sm.restart()
		return
	}
	s.started = true
	s.sm.start()
}

// Stop tears the session down: timers canceled, SRTP disabled for
// both directions, every key scrubbed. Idempotent; messages arriving
// afterwards are dropped.
func (s *Session) Stop() {
	if !s.started {
		return
	}
	s.sm.close()
	s.started = false
}

// ProcessMessage feeds one inbound ZRTP payload (message or ZRTP-2022
// frame, CRC included) into the engine.
func (s *Session) ProcessMessage(payload []byte, peerSSRC uint32) {
	if !s.started {
		return
	}
	s.peerSSRC = peerSSRC

	body, err := protocol.CheckCRC(payload)
	if err != nil {
		s.cb.SendInfo(SeverityWarning, WarningCRCMismatch)
		return
	}

	if protocol.IsFrame(body) {
		body, err = s.assembler.Add(body)
		if err != nil || body == nil {
			return
		}
	}

	msg, err := protocol.Decode(body)
	if err != nil {
		// Stray or garbled packets are dropped; only messages that
		// parse but violate the protocol produce Error messages.
		return
	}

	// Ping is answered outside the state machine.
	if ping, ok := msg.(*protocol.Ping); ok {
		s.sendMessage(s.buildPingAck(ping).Encode())
		return
	}
	if _, ok := msg.(*protocol.PingAck); ok {
		return
	}

	s.sm.processMessage(msg, body)
}

// ProcessTimeout feeds a timer expiry into the engine.
func (s *Session) ProcessTimeout() {
	if !s.started {
		return
	}
	s.sm.processTimeout()
}

// InSecureState reports whether the handshake completed.
func (s *Session) InSecureState() bool {
	return s.started && s.sm.state == SecureState
}

// Role returns the resolved protocol role.
func (s *Session) Role() Role { return s.role }

// PeerZID returns the ZID learned from the peer's Hello.
func (s *Session) PeerZID() protocol.ZID { return s.peerZID }

// PeerClientID returns the peer's client identifier string.
func (s *Session) PeerClientID() string { return s.peerClientID }

// PeerProtocolVersion returns the peer's announced version.
func (s *Session) PeerProtocolVersion() string { return s.peerVersion }

// DetailInfo returns negotiated algorithms and secret-cache status.
func (s *Session) DetailInfo() DetailInfo { return s.detail }

// SAS returns the short authentication string once secure.
func (s *Session) SAS() string { return s.keys.sas }

// SASHash exposes the full SAS hash, e.g. for external signing.
func (s *Session) SASHash() []byte { return s.keys.sasHash }

// ExportedKey returns the "Exported key" KDF output for application
// use (RFC 6189 section 4.5.2).
func (s *Session) ExportedKey() []byte { return s.keys.exportedKey }

// SetAuxSecret installs the auxiliary shared secret. Must be called
// before Start.
func (s *Session) SetAuxSecret(secret []byte) {
	s.auxSecret = append([]byte(nil), secret...)
}

// SASVerified marks the SAS as verified by the users and persists the
// sticky flag.
func (s *Session) SASVerified() {
	if s.zidRec != nil {
		s.zidRec.SetSASVerified(true)
		s.cache.SaveRecord(s.zidRec)
	}
}

// ResetSASVerified clears the verified flag.
func (s *Session) ResetSASVerified() {
	if s.zidRec != nil {
		s.zidRec.SetSASVerified(false)
		s.cache.SaveRecord(s.zidRec)
	}
}

// IsSASVerified reports the cached verified flag; always false in
// paranoid mode.
func (s *Session) IsSASVerified() bool {
	if s.cfg.ParanoidMode || s.zidRec == nil {
		return false
	}
	return s.zidRec.IsSASVerified()
}

// SecureSince returns the epoch seconds of the first successful
// handshake with this peer.
func (s *Session) SecureSince() int64 {
	if s.zidRec == nil {
		return 0
	}
	return s.zidRec.SecureSince
}

// Rs2Valid marks the stored RS2 as valid and saves the record. The
// cache already sets this flag when a valid RS1 rotates into RS2.
func (s *Session) Rs2Valid() {
	if s.zidRec != nil {
		s.zidRec.Flags |= storage.FlagRS2Valid
		s.cache.SaveRecord(s.zidRec)
	}
}

// SASRelayed reports whether the displayed SAS came from a trusted
// MitM rather than this session's own negotiation.
func (s *Session) SASRelayed() bool { return s.sasRelayed }

// IsMitmSession reports whether the peer announced itself as a PBX.
func (s *Session) IsMitmSession() bool { return s.mitmSeen }

// HelloHash returns the own Hello commitment for signaling channels:
// version, a space, and the lowercase hex SHA-256 of the Hello
// message.
func (s *Session) HelloHash() string {
	raw := s.helloBytes()
	return protocol.Version + " " + hex.EncodeToString(crypto.ImplicitHash(raw))
}

// PeerHelloHash returns the same commitment for the peer's Hello,
// empty before it arrived.
func (s *Session) PeerHelloHash() string {
	if len(s.peerHelloRaw.raw) == 0 {
		return ""
	}
	return s.peerVersion + " " + hex.EncodeToString(crypto.ImplicitHash(s.peerHelloRaw.raw))
}

// SetSignatureData installs the signature block sent inside Confirm.
// Only honored when SASSignSupport is on.
func (s *Session) SetSignatureData(sigType protocol.AlgorithmID, data []byte) {
	s.signatureData = &protocol.SignatureBlock{Type: sigType, Data: append([]byte(nil), data...)}
}

// SignatureData returns the signature block the peer sent, nil when
// there was none.
func (s *Session) SignatureData() *protocol.SignatureBlock { return s.peerSignature }

// IsMultiStream reports whether this session runs in multi-stream
// mode.
func (s *Session) IsMultiStream() bool { return s.multiStream }

// IsMultiStreamAvailable reports whether the peer offered the Mult
// key agreement.
func (s *Session) IsMultiStreamAvailable() bool { return s.multiStreamAvailable }

// MultiStrParams exports the master stream parameters for additional
// streams: negotiated algorithm names followed by the ZRTP session
// key. Only valid in the secure state of a DH-mode session.
func (s *Session) MultiStrParams() ([]byte, error) {
	if !s.InSecureState() || s.multiStream {
		return nil, ErrNotSecure
	}
	buf := make([]byte, 0, 16+len(s.keys.zrtpSession))
	buf = append(buf, s.sel.Hash[:]...)
	buf = append(buf, s.sel.Cipher[:]...)
	buf = append(buf, s.sel.AuthTag[:]...)
	buf = append(buf, s.sel.SASType[:]...)
	buf = append(buf, s.keys.zrtpSession...)
	return buf, nil
}

// SetMultiStrParams switches this (not yet started) session into
// multi-stream mode with the master parameters.
func (s *Session) SetMultiStrParams(params []byte) error {
	if len(params) <= 16 {
		return ErrBadParameters
	}
	var sel crypto.Selection
	copy(sel.Hash[:], params[0:4])
	copy(sel.Cipher[:], params[4:8])
	copy(sel.AuthTag[:], params[8:12])
	copy(sel.SASType[:], params[12:16])
	if s.reg.Hash(sel.Hash) == nil || s.reg.Cipher(sel.Cipher) == nil ||
		s.reg.AuthTag(sel.AuthTag) == nil || s.reg.SASType(sel.SASType) == nil {
		return ErrBadParameters
	}
	sel.KeyAgreement = crypto.KeyAgreementMulti

	if code := s.bindSelection(sel); code != 0 {
		return ErrBadParameters
	}
	s.masterSessionKey = append([]byte(nil), params[16:]...)
	s.multiStream = true
	s.sm.multiStream = true
	return nil
}

// Conf2AckSecure is called by the host when SRTP media arrives while
// still waiting for Conf2ACK: the peer clearly holds the keys, so the
// lost ack is synthesized.
func (s *Session) Conf2AckSecure() {
	if s.started && s.sm.state == WaitConfAck {
		s.sm.processMessage(protocol.NewConf2Ack(), protocol.NewConf2Ack().Encode())
	}
}

// AcceptEnrollment answers a pending enrollment offer. On accept the
// derived MitM key is persisted in the peer's cache record.
func (s *Session) AcceptEnrollment(accepted bool) error {
	if !s.enrollPending {
		return ErrNotEnrollment
	}
	s.enrollPending = false
	if !accepted {
		s.cb.InformEnrollment(EnrollmentCanceled)
		return nil
	}
	if s.zidRec == nil || len(s.keys.pbxSecret) == 0 {
		s.cb.InformEnrollment(EnrollmentFailed)
		return ErrNotEnrollment
	}
	s.zidRec.SetMITMKey(s.keys.pbxSecret)
	if err := s.cache.SaveRecord(s.zidRec); err != nil {
		s.cb.InformEnrollment(EnrollmentFailed)
		return err
	}
	s.cb.InformEnrollment(EnrollmentOK)
	return nil
}

// Timer tuning; see the state machine for the floors.

func (s *Session) SetT1Resend(counter int) error       { return s.sm.setT1Resend(counter) }
func (s *Session) SetT1ResendExtend(counter int) error { return s.sm.setT1ResendExtend(counter) }
func (s *Session) SetT1Capping(ms int) error           { return s.sm.setT1Capping(ms) }
func (s *Session) SetT2Resend(counter int) error       { return s.sm.setT2Resend(counter) }
func (s *Session) SetT2Capping(ms int) error           { return s.sm.setT2Capping(ms) }

// SetTransportOverhead records how many bytes the host's transport
// adds per packet. The value is only stored; frame payload sizes do
// not depend on it.
func (s *Session) SetTransportOverhead(bytes int) {
	s.sm.transportOverhead = bytes
}

// generateHashChain draws a fresh H0 and computes H1..H3.
func (s *Session) generateHashChain() {
	cryptoRandRead(s.h0[:])
	copy(s.h1[:], crypto.ImplicitHash(s.h0[:]))
	copy(s.h2[:], crypto.ImplicitHash(s.h1[:]))
	copy(s.h3[:], crypto.ImplicitHash(s.h2[:]))
}

// helloBytes encodes the own Hello with its HMAC applied, building
// the message and hash chain on first use.
func (s *Session) helloBytes() []byte {
	if s.hello == nil {
		s.generateHashChain()
		s.hello = s.buildHello()
	}
	raw := s.hello.Encode()
	mac := crypto.ImplicitHMAC(s.h2[:], raw[:len(raw)-protocol.HMACSize])
	protocol.SetHMAC(raw, mac)
	copy(s.hello.HMAC[:], mac)
	return raw
}

func (s *Session) buildHello() *protocol.Hello {
	h := &protocol.Hello{ZID: s.ownZID, H3: s.h3}
	copy(h.Version[:], protocol.Version)
	h.SetClientID(s.cfg.ClientID)

	if s.cfg.MitmMode {
		h.Flags |= protocol.FlagMitm
	}
	if s.cfg.SASSignSupport {
		h.Flags |= protocol.FlagSASSign
	}
	if s.cfg.Disclosure {
		h.Flags |= protocol.FlagDisclosure
	}
	if s.cfg.Passive {
		h.Flags |= protocol.FlagPassive
	}

	sel := s.cfg.Selections
	h.Hashes = sel.Hashes
	h.Ciphers = sel.Ciphers
	h.AuthTags = sel.AuthTags
	h.KeyAgreements = sel.KeyAgreements
	h.SASTypes = sel.SASTypes
	return h
}

func (s *Session) buildPingAck(ping *protocol.Ping) *protocol.PingAck {
	ack := &protocol.PingAck{SSRC: s.peerSSRC}
	copy(ack.Version[:], protocol.Version)
	hash := crypto.ImplicitHash(s.ownZID[:])
	copy(ack.SenderHash[:], hash)
	ack.ReceivedHash = ping.EndpointHash
	return ack
}

// sendMessage wraps a message with its CRC and hands it to the host,
// honoring the frame layer when enabled.
func (s *Session) sendMessage(msg []byte) bool {
	if s.cfg.UseZrtpFrames {
		frames := protocol.Fragment(msg, s.frameBatch)
		s.frameBatch++
		ok := true
		for _, f := range frames {
			wire := protocol.AppendCRC(f)
			if fs, framed := s.cb.(FrameSender); framed {
				ok = fs.SendFrameDataZRTP(wire) && ok
			} else {
				ok = s.cb.SendDataZRTP(wire) && ok
			}
		}
		return ok
	}
	return s.cb.SendDataZRTP(protocol.AppendCRC(msg))
}

// wipe scrubs everything derived and resets the negotiation state.
func (s *Session) wipe() {
	s.keys.wipe()
	crypto.MemzeroAll(s.h0[:], s.h1[:], s.h2[:], s.masterSessionKey, s.auxSecret)
	s.masterSessionKey = nil
	s.zidRec = nil
	s.role = NoRole
	// A later restart draws a fresh chain and Hello.
	s.hello = nil
}
