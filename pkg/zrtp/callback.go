package zrtp

import "github.com/clearline/go-zrtp/pkg/protocol"

// Severity classifies SendInfo and NegotiationFailed reports.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeveritySevere
	// SeverityZrtpError carries a wire-visible protocol.ErrorCode as
	// its subcode.
	SeverityZrtpError
)

// Info subcodes
const (
	InfoHelloReceived int32 = iota + 1
	InfoCommitGenerated
	InfoRespCommitReceived
	InfoDHPart1Generated
	InfoDHPart2Received
	InfoConfirm1Received
	InfoConfirm2Received
	InfoSecureStateOn
	InfoSecureStateOff
)

// Warning subcodes
const (
	WarningDHShort int32 = iota + 1
	WarningNoRSMatch
	WarningCRCMismatch
	WarningSRTPAuthError
	WarningNoExpectedRSMatch
	WarningSASRelayUntrusted
	WarningSASRelayIgnored
	WarningGoClearReceived
)

// Severe subcodes
const (
	SevereCannotSend int32 = iota + 1
	SevereNoTimer
	SevereTooMuchRetries
	SevereProtocolError
	SevereSecureStateOff
)

// SRTPPart selects a media direction when enabling or disabling SRTP.
type SRTPPart int

const (
	ForSender SRTPPart = iota
	ForReceiver
)

// Role is the ZRTP role this endpoint resolved to.
type Role int

const (
	NoRole Role = iota
	Initiator
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "none"
	}
}

// SRTPSecrets is the negotiated SRTP key material handed to the host.
// The host owns the media path; the session scrubs its own copies
// when it ends.
type SRTPSecrets struct {
	Cipher      protocol.AlgorithmID
	AuthTag     protocol.AlgorithmID
	AuthTagBits int

	KeyInitiator  []byte
	SaltInitiator []byte
	KeyResponder  []byte
	SaltResponder []byte

	Role Role
	SAS  string
}

// EnrollmentInfo tells the host why an enrollment callback fired.
type EnrollmentInfo int

const (
	EnrollmentRequest EnrollmentInfo = iota // PBX asks to enroll
	EnrollmentCanceled
	EnrollmentFailed
	EnrollmentOK
)

// Callback is the host surface the session drives. Implementations
// must not block for long inside SendDataZRTP, ActivateTimer or
// CancelTimer; user-facing callbacks (ShowSAS via SRTPSecretsOn,
// enrollment, signatures) may take their time, the engine holds no
// locks across them.
type Callback interface {
	// SendDataZRTP hands one wire-ready packet (message plus CRC) to
	// the transport. Returns false when sending failed.
	SendDataZRTP(data []byte) bool

	// ActivateTimer arms the single protocol timer; a running timer
	// is re-armed. The host calls Session.ProcessTimeout on expiry.
	ActivateTimer(ms int) bool

	// CancelTimer disarms the protocol timer.
	CancelTimer() bool

	// SendInfo reports protocol progress and recoverable issues.
	SendInfo(severity Severity, subcode int32)

	// SRTPSecretsReady delivers key material for one direction.
	// Returning false aborts the session.
	SRTPSecretsReady(secrets *SRTPSecrets, part SRTPPart) bool

	// SRTPSecretsOn announces the secure state together with the SAS
	// to display and its verified status.
	SRTPSecretsOn(cipher string, sas string, verified bool)

	// SRTPSecretsOff tears down one direction.
	SRTPSecretsOff(part SRTPPart)

	// NegotiationFailed reports a terminal handshake failure.
	NegotiationFailed(severity Severity, subcode int32)

	// NotSuppOther signals that the peer never answered Hello.
	NotSuppOther()

	// AskEnrollment asks the user to accept or reject a PBX
	// enrollment offer; the host answers via AcceptEnrollment.
	AskEnrollment(info EnrollmentInfo)

	// InformEnrollment reports the enrollment outcome.
	InformEnrollment(info EnrollmentInfo)

	// SignSAS asks the host to attach a signature over the SAS hash
	// via Session.SetSignatureData before Confirm is sent.
	SignSAS(sasHash []byte)

	// CheckSASSignature verifies a received SAS signature. Returning
	// false makes the session report WarningSRTPAuthError; the
	// handshake continues.
	CheckSASSignature(sasHash []byte) bool
}

// FrameSender is an optional host extension for ZRTP-2022 frames.
// Without it, frames go through SendDataZRTP one by one.
type FrameSender interface {
	SendFrameDataZRTP(data []byte) bool
}
