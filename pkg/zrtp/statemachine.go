package zrtp

import (
	"errors"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

// State is a protocol engine state.
type State int

const (
	Initial State = iota
	Detect
	AckDetected
	AckSent
	WaitCommit
	CommitSent
	WaitDHPart2
	WaitConfirm1
	WaitConfirm2
	WaitConfAck
	WaitClearAck
	SecureState
	WaitErrorAck
)

// Secure sub-states handle the SAS relay exchange without leaving
// SecureState.
type secureSubState int

const (
	subNormal secureSubState = iota
	subWaitRelayAck
)

// Timer defaults and floors. T1 drives Hello discovery, T2 everything
// after it.
const (
	t1Start     = 50
	t1Capping   = 200
	t1MaxResend = 20
	t1Extend    = 60

	t2Start     = 150
	t2Capping   = 1200
	t2MaxResend = 10

	minResendCounter = 10
	minT1Capping     = 50
	minT2Capping     = 150
)

var ErrTimerBounds = errors.New("timer parameter below protocol floor")

type timer struct {
	time      int
	start     int
	capping   int
	counter   int
	maxResend int
}

func (t *timer) reset() {
	t.time = t.start
	t.counter = 0
}

// next doubles the timeout up to the cap and reports whether another
// resend is allowed.
func (t *timer) next() bool {
	t.time *= 2
	if t.time > t.capping {
		t.time = t.capping
	}
	t.counter++
	return t.counter <= t.maxResend
}

type stateMachine struct {
	s     *Session
	state State

	t1 timer
	t2 timer

	t1ResendExtend int
	t1Extended     bool

	multiStream bool

	// sentMessage is resent on timer expiry, wire image without CRC.
	sentMessage []byte

	// preparedCommit waits in AckSent until the peer's HelloACK.
	preparedCommit []byte

	subState  secureSubState
	sentRelay []byte

	transportOverhead int

	rxOn bool
	txOn bool

	// retryCounters per message class, for diagnostics.
	helloRetries   int
	commitRetries  int
	dhPart2Retries int
	confirmRetries int
	errorRetries   int
	relayRetries   int
	clearRetries   int
}

func newStateMachine(s *Session) *stateMachine {
	return &stateMachine{
		s:              s,
		state:          Initial,
		t1:             timer{start: t1Start, capping: t1Capping, maxResend: t1MaxResend},
		t2:             timer{start: t2Start, capping: t2Capping, maxResend: t2MaxResend},
		t1ResendExtend: t1Extend,
	}
}

func (sm *stateMachine) setT1Resend(counter int) error {
	if counter < minResendCounter {
		return ErrTimerBounds
	}
	sm.t1.maxResend = counter
	return nil
}

func (sm *stateMachine) setT1ResendExtend(counter int) error {
	if counter < minResendCounter {
		return ErrTimerBounds
	}
	sm.t1ResendExtend = counter
	return nil
}

func (sm *stateMachine) setT1Capping(ms int) error {
	if ms < minT1Capping {
		return ErrTimerBounds
	}
	sm.t1.capping = ms
	return nil
}

func (sm *stateMachine) setT2Resend(counter int) error {
	if counter < minResendCounter {
		return ErrTimerBounds
	}
	sm.t2.maxResend = counter
	return nil
}

func (sm *stateMachine) setT2Capping(ms int) error {
	if ms < minT2Capping {
		return ErrTimerBounds
	}
	sm.t2.capping = ms
	return nil
}

// start sends the first Hello and arms T1.
func (sm *stateMachine) start() {
	raw := sm.s.helloBytes()
	sm.s.sentHello.set(raw)
	sm.sentMessage = raw
	sm.t1Extended = false

	if !sm.s.sendMessage(raw) {
		sm.sendFailed()
		return
	}
	sm.state = Detect
	sm.startTimer(&sm.t1)
}

// restart re-enters discovery from a dormant Detect state.
func (sm *stateMachine) restart() {
	if sm.state != Detect && sm.state != Initial {
		return
	}
	sm.s.cb.CancelTimer()
	sm.start()
}

// close is the stopZrtp path: timers off, SRTP off, keys wiped.
func (sm *stateMachine) close() {
	sm.s.cb.CancelTimer()
	sm.secretsOff()
	sm.s.wipe()
	sm.sentMessage = nil
	sm.preparedCommit = nil
	sm.sentRelay = nil
	sm.subState = subNormal
	sm.state = Initial
}

func (sm *stateMachine) secretsOff() {
	if sm.rxOn {
		sm.s.cb.SRTPSecretsOff(ForReceiver)
		sm.rxOn = false
	}
	if sm.txOn {
		sm.s.cb.SRTPSecretsOff(ForSender)
		sm.txOn = false
	}
}

// fail drops to Initial, scrubbing everything.
func (sm *stateMachine) fail() {
	sm.s.cb.CancelTimer()
	sm.secretsOff()
	sm.s.wipe()
	sm.sentMessage = nil
	sm.preparedCommit = nil
	sm.state = Initial
}

func (sm *stateMachine) sendFailed() {
	sm.s.cb.NegotiationFailed(SeveritySevere, SevereCannotSend)
	sm.fail()
}

func (sm *stateMachine) timerFailed() {
	sm.s.cb.NegotiationFailed(SeveritySevere, SevereNoTimer)
	sm.fail()
}

func (sm *stateMachine) startTimer(t *timer) {
	t.reset()
	if !sm.s.cb.ActivateTimer(t.time) {
		sm.timerFailed()
	}
}

// resend advances the timer and, while the budget lasts, sends
// sentMessage again. Returns false once the budget is exhausted.
func (sm *stateMachine) resend(t *timer) bool {
	if !t.next() || sm.sentMessage == nil {
		return false
	}
	if !sm.s.sendMessage(sm.sentMessage) {
		sm.sendFailed()
		return false
	}
	if !sm.s.cb.ActivateTimer(t.time) {
		sm.timerFailed()
		return false
	}
	return true
}

// protocolError sends an Error message and waits for its ack.
func (sm *stateMachine) protocolError(code protocol.ErrorCode) {
	sm.s.cb.CancelTimer()
	sm.s.cb.NegotiationFailed(SeverityZrtpError, int32(code))
	e := &protocol.Error{Code: code}
	raw := e.Encode()
	sm.sentMessage = raw
	if !sm.s.sendMessage(raw) {
		sm.sendFailed()
		return
	}
	sm.state = WaitErrorAck
	sm.startTimer(&sm.t2)
}

// processMessage dispatches one decoded inbound message.
func (sm *stateMachine) processMessage(msg protocol.Message, raw []byte) {
	// Error is handled in every state: acknowledge and fail.
	if e, ok := msg.(*protocol.Error); ok {
		sm.s.cb.CancelTimer()
		sm.s.cb.NegotiationFailed(SeverityZrtpError, int32(e.Code))
		sm.s.sendMessage(protocol.NewErrorAck().Encode())
		sm.fail()
		return
	}

	switch sm.state {
	case Detect:
		sm.evDetect(msg, raw)
	case AckDetected:
		sm.evAckDetected(msg, raw)
	case AckSent:
		sm.evAckSent(msg, raw)
	case WaitCommit:
		sm.evWaitCommit(msg, raw)
	case CommitSent:
		sm.evCommitSent(msg, raw)
	case WaitDHPart2:
		sm.evWaitDHPart2(msg, raw)
	case WaitConfirm1:
		sm.evWaitConfirm1(msg, raw)
	case WaitConfirm2:
		sm.evWaitConfirm2(msg, raw)
	case WaitConfAck:
		sm.evWaitConfAck(msg)
	case WaitClearAck:
		sm.evWaitClearAck(msg)
	case SecureState:
		sm.evSecureState(msg, raw)
	case WaitErrorAck:
		sm.evWaitErrorAck(msg)
	}
	// Initial: inbound traffic is dropped until Start.
}

func (sm *stateMachine) processTimeout() {
	switch sm.state {
	case Detect, AckSent:
		sm.helloRetries++
		if sm.resend(&sm.t1) {
			return
		}
		if !sm.t1Extended {
			// Chapter 6: keep announcing at the capped interval for
			// an extended budget before giving up. The resend that
			// just ran out of base budget still goes out.
			sm.t1Extended = true
			sm.t1.maxResend += sm.t1ResendExtend
			if sm.sentMessage != nil && sm.s.sendMessage(sm.sentMessage) &&
				sm.s.cb.ActivateTimer(sm.t1.time) {
				return
			}
		}
		sm.s.cb.CancelTimer()
		sm.preparedCommit = nil
		sm.s.cb.NotSuppOther()
		sm.state = Detect // dormant, a late Hello revives it

	case CommitSent:
		sm.commitRetries++
		if !sm.resend(&sm.t2) {
			sm.retriesExhausted()
		}
	case WaitConfirm1:
		sm.dhPart2Retries++
		if !sm.resend(&sm.t2) {
			sm.retriesExhausted()
		}
	case WaitConfAck:
		sm.confirmRetries++
		if !sm.resend(&sm.t2) {
			sm.retriesExhausted()
		}
	case WaitClearAck:
		sm.clearRetries++
		if !sm.resend(&sm.t2) {
			sm.retriesExhausted()
		}
	case WaitErrorAck:
		sm.errorRetries++
		if !sm.resend(&sm.t2) {
			sm.fail()
		}
	case SecureState:
		if sm.subState == subWaitRelayAck {
			sm.relayRetries++
			sm.sentMessage = sm.sentRelay
			if !sm.resend(&sm.t2) {
				sm.subState = subNormal
				sm.sentRelay = nil
			}
		}
	}
}

func (sm *stateMachine) retriesExhausted() {
	sm.s.cb.NegotiationFailed(SeveritySevere, SevereTooMuchRetries)
	sm.fail()
}

// evDetect: own Hello is out, looking for the peer.
func (sm *stateMachine) evDetect(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Hello:
		sm.s.sendMessage(protocol.NewHelloAck().Encode())
		if code := sm.s.processHello(m, raw); code != codeOK {
			sm.s.cb.CancelTimer()
			sm.protocolError(code)
			return
		}
		if !sm.s.cfg.Passive {
			commit, code := sm.s.prepareCommit()
			if code != codeOK {
				sm.s.cb.CancelTimer()
				sm.protocolError(code)
				return
			}
			sm.preparedCommit = commit
		}
		sm.state = AckSent
		// Keep resending Hello with the extended budget; the peer
		// saw ours when its HelloACK arrives.
		sm.t1.maxResend += sm.t1ResendExtend
		sm.t1Extended = true

	default:
		if msg.Type() == protocol.TypeHelloAck {
			sm.s.cb.CancelTimer()
			sm.state = AckDetected
		}
	}
}

// evAckDetected: HelloACK arrived before the peer's Hello.
func (sm *stateMachine) evAckDetected(msg protocol.Message, raw []byte) {
	m, ok := msg.(*protocol.Hello)
	if !ok {
		return
	}
	sm.s.sendMessage(protocol.NewHelloAck().Encode())
	if code := sm.s.processHello(m, raw); code != codeOK {
		sm.protocolError(code)
		return
	}
	if sm.s.cfg.Passive {
		sm.state = WaitCommit
		return
	}
	commit, code := sm.s.prepareCommit()
	if code != codeOK {
		sm.protocolError(code)
		return
	}
	sm.becomeInitiator(commit)
}

// becomeInitiator sends the Commit and arms T2.
func (sm *stateMachine) becomeInitiator(commit []byte) {
	sm.s.role = Initiator
	sm.sentMessage = commit
	if !sm.s.sendMessage(commit) {
		sm.sendFailed()
		return
	}
	sm.state = CommitSent
	sm.startTimer(&sm.t2)
}

// evAckSent: both Hellos crossed; waiting for the peer's HelloACK or
// its Commit.
func (sm *stateMachine) evAckSent(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Hello:
		// Retransmitted Hello: answer again, do not re-process.
		sm.s.sendMessage(protocol.NewHelloAck().Encode())

	case *protocol.Commit:
		// The peer won the race to Commit; turn responder.
		sm.s.cb.CancelTimer()
		sm.respondToCommit(m, raw)

	default:
		if msg.Type() == protocol.TypeHelloAck {
			sm.s.cb.CancelTimer()
			if sm.s.cfg.Passive {
				sm.state = WaitCommit
				return
			}
			sm.becomeInitiator(sm.preparedCommit)
			sm.preparedCommit = nil
		}
	}
}

// evWaitCommit: passive endpoint, responder by construction.
func (sm *stateMachine) evWaitCommit(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Hello:
		sm.s.sendMessage(protocol.NewHelloAck().Encode())
	case *protocol.Commit:
		sm.respondToCommit(m, raw)
	}
}

// respondToCommit runs the responder path for a validated Commit.
func (sm *stateMachine) respondToCommit(c *protocol.Commit, raw []byte) {
	if code := sm.s.processCommit(c, raw); code != codeOK {
		sm.protocolError(code)
		return
	}
	sm.s.role = Responder

	if sm.multiStream {
		if code := sm.s.deriveMultiStreamKeys(false); code != codeOK {
			sm.protocolError(code)
			return
		}
		confirm, code := sm.s.prepareConfirm(1)
		if code != codeOK {
			sm.protocolError(code)
			return
		}
		sm.sentMessage = confirm
		if !sm.s.sendMessage(confirm) {
			sm.sendFailed()
			return
		}
		sm.state = WaitConfirm2
		return
	}

	dhPart1, code := sm.s.prepareDHPart1()
	if code != codeOK {
		sm.protocolError(code)
		return
	}
	sm.sentMessage = dhPart1
	if !sm.s.sendMessage(dhPart1) {
		sm.sendFailed()
		return
	}
	sm.state = WaitDHPart2
}

// evCommitSent: initiator, Commit out on T2.
func (sm *stateMachine) evCommitSent(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Hello:
		sm.s.sendMessage(protocol.NewHelloAck().Encode())

	case *protocol.Commit:
		// Commit contention: the larger hvi (or nonce) initiates.
		cmp := sm.s.compareCommit(m)
		if cmp > 0 {
			return // we win, keep initiating; peer will yield
		}
		if cmp == 0 {
			// Equal commitment values cannot happen between honest
			// endpoints.
			sm.s.cb.CancelTimer()
			sm.protocolError(protocol.DHErrorWrongHVI)
			return
		}
		sm.s.cb.CancelTimer()
		sm.s.role = NoRole
		sm.respondToCommit(m, raw)

	case *protocol.DHPart:
		if m.Part != 1 || sm.multiStream {
			return
		}
		if code := sm.s.processDHPart1(m, raw); code != codeOK {
			sm.s.cb.CancelTimer()
			sm.protocolError(code)
			return
		}
		sm.sentMessage = sm.s.sentDHPart2.raw
		if !sm.s.sendMessage(sm.sentMessage) {
			sm.sendFailed()
			return
		}
		sm.state = WaitConfirm1
		sm.startTimer(&sm.t2)

	case *protocol.Confirm:
		if m.Part != 1 || !sm.multiStream {
			return
		}
		if code := sm.s.deriveMultiStreamKeys(true); code != codeOK {
			sm.s.cb.CancelTimer()
			sm.protocolError(code)
			return
		}
		sm.acceptConfirm1(m)
	}
}

// acceptConfirm1 is the shared initiator path once Confirm1 checks
// out: receiver keys on, Confirm2 out.
func (sm *stateMachine) acceptConfirm1(m *protocol.Confirm) {
	if code := sm.s.processConfirm(m); code != codeOK {
		sm.s.cb.CancelTimer()
		sm.protocolError(code)
		return
	}
	if !sm.s.cb.SRTPSecretsReady(sm.s.srtpSecrets(), ForReceiver) {
		sm.s.cb.NegotiationFailed(SeveritySevere, SevereSecureStateOff)
		sm.fail()
		return
	}
	sm.rxOn = true

	confirm2, code := sm.s.prepareConfirm(2)
	if code != codeOK {
		sm.s.cb.CancelTimer()
		sm.protocolError(code)
		return
	}
	sm.sentMessage = confirm2
	if !sm.s.sendMessage(confirm2) {
		sm.sendFailed()
		return
	}
	sm.state = WaitConfAck
	sm.startTimer(&sm.t2)
}

// evWaitDHPart2: responder, DHPart1 out, no timer of our own.
func (sm *stateMachine) evWaitDHPart2(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Commit:
		// Initiator missed our DHPart1.
		sm.s.sendMessage(sm.sentMessage)

	case *protocol.DHPart:
		if m.Part != 2 {
			return
		}
		if code := sm.s.processDHPart2(m, raw); code != codeOK {
			sm.protocolError(code)
			return
		}
		confirm, code := sm.s.prepareConfirm(1)
		if code != codeOK {
			sm.protocolError(code)
			return
		}
		sm.sentMessage = confirm
		if !sm.s.sendMessage(confirm) {
			sm.sendFailed()
			return
		}
		sm.state = WaitConfirm2
	}
}

// evWaitConfirm1: initiator, DHPart2 out on T2.
func (sm *stateMachine) evWaitConfirm1(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.DHPart:
		if m.Part == 1 {
			// Responder missed our DHPart2: send it again now; T2
			// keeps running as well.
			sm.s.sendMessage(sm.sentMessage)
		}
	case *protocol.Confirm:
		if m.Part != 1 {
			return
		}
		sm.s.cb.CancelTimer()
		sm.acceptConfirm1(m)
	}
}

// evWaitConfirm2: responder, Confirm1 out.
func (sm *stateMachine) evWaitConfirm2(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.DHPart:
		if m.Part == 2 {
			sm.s.sendMessage(sm.sentMessage)
		}
	case *protocol.Commit:
		if sm.multiStream {
			sm.s.sendMessage(sm.sentMessage)
		}
	case *protocol.Confirm:
		if m.Part != 2 {
			return
		}
		if code := sm.s.processConfirm(m); code != codeOK {
			sm.protocolError(code)
			return
		}
		ack := protocol.NewConf2Ack().Encode()
		sm.sentMessage = ack
		if !sm.s.sendMessage(ack) {
			sm.sendFailed()
			return
		}
		if !sm.s.cb.SRTPSecretsReady(sm.s.srtpSecrets(), ForReceiver) {
			sm.s.cb.NegotiationFailed(SeveritySevere, SevereSecureStateOff)
			sm.fail()
			return
		}
		sm.rxOn = true
		if !sm.s.enterSecure() {
			sm.s.cb.NegotiationFailed(SeveritySevere, SevereSecureStateOff)
			sm.fail()
			return
		}
		sm.txOn = true
		sm.state = SecureState
	}
}

// evWaitConfAck: initiator, Confirm2 out on T2.
func (sm *stateMachine) evWaitConfAck(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Confirm:
		if m.Part == 1 {
			sm.s.sendMessage(sm.sentMessage)
		}
	default:
		if msg.Type() != protocol.TypeConf2Ack {
			return
		}
		sm.s.cb.CancelTimer()
		if !sm.s.enterSecure() {
			sm.s.cb.NegotiationFailed(SeveritySevere, SevereSecureStateOff)
			sm.fail()
			return
		}
		sm.txOn = true
		sm.state = SecureState
	}
}

// evWaitClearAck: GoClear out on T2.
func (sm *stateMachine) evWaitClearAck(msg protocol.Message) {
	if msg.Type() != protocol.TypeClearAck {
		return
	}
	sm.s.cb.CancelTimer()
	sm.secretsOff()
	sm.s.cb.SendInfo(SeverityInfo, InfoSecureStateOff)
	sm.s.wipe()
	sm.state = Initial
}

// evSecureState: SRTP running; handle late retransmits and the side
// protocols.
func (sm *stateMachine) evSecureState(msg protocol.Message, raw []byte) {
	switch m := msg.(type) {
	case *protocol.Confirm:
		// The initiator missed our Conf2ACK.
		if m.Part == 2 && sm.s.role == Responder {
			sm.s.sendMessage(sm.sentMessage)
		}

	case *protocol.GoClear:
		sm.s.handleGoClear(m, sm)

	case *protocol.SASRelay:
		sm.s.handleSASRelay(m, sm)

	default:
		if msg.Type() == protocol.TypeRelayAck && sm.subState == subWaitRelayAck {
			sm.s.cb.CancelTimer()
			sm.subState = subNormal
			sm.sentRelay = nil
		}
	}
}

// evWaitErrorAck: Error out on T2.
func (sm *stateMachine) evWaitErrorAck(msg protocol.Message) {
	if msg.Type() != protocol.TypeErrorAck {
		return
	}
	sm.s.cb.CancelTimer()
	sm.fail()
}

// RetryCounters reports the retransmit counts per message class.
func (sm *stateMachine) retryCounters() []int {
	return []int{
		sm.helloRetries, sm.commitRetries, sm.dhPart2Retries,
		sm.confirmRetries, sm.errorRetries, sm.relayRetries,
		sm.clearRetries,
	}
}
