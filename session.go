package irc

import (
	"bufio"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// waitEntry is one pending wait_for registration, owned exclusively by
// dispatchLoop once registered; result is buffered so a timed-out caller
// doesn't block the dispatcher on a stale send.
type waitEntry struct {
	matcher  Matcher
	label    string
	result   chan *Line
	deadline time.Time
}

// SendResult is what Send returns: the underlying SentLine future, plus the
// labeled-response label (if any) bound to it so a subsequent wait_for can
// be correlated with after=....
type SendResult struct {
	*SentLine
	label string
}

// Session is one IRC connection: transport, parsed state, outbound queue,
// throttle, and the CAP/SASL-negotiated label tag, per spec.md §3's Session
// type, generalized from the teacher's *Connection into the per-session
// engine this library centers on.
type Session struct {
	params ConnectionParams
	state  *sessionState

	transport Transport
	tls       bool

	sendQueue *SendQueue
	throttle  *Throttle

	labelTag    string
	labelSeq    uint64
	caps        *negotiatedCaps
	echoMessage bool

	// selfHostmask is dispatchLoop's snapshot of our own nick/user/host,
	// published for sendLoop's self-echo synthesis to read without
	// reaching into sessionState, which only dispatchLoop owns.
	selfHostmask atomic.Value // *Hostmask

	waitRegister chan *waitEntry
	injected     chan *Line
	closeCh      chan struct{}
	closeOnce    sync.Once

	mu            sync.Mutex
	disconnectErr error

	whoQueue []string
	altIdx   int
	quitting bool

	// Reconnect, if set, is invoked by an STS upgrade to ask whatever owns
	// this session (typically a Supervisor) to tear it down and reconnect
	// with the upgraded params.
	Reconnect func(newParams ConnectionParams) error

	// OnDisconnect, if set, is invoked once after an unexpected shutdown
	// (never after an explicit Disconnect), letting a Supervisor notice the
	// drop and apply its reconnect policy.
	OnDisconnect func(err error)

	// Overridable user callbacks, per spec.md §4.1/§6.
	LinePreread    func(line *Line)
	LinePresend    func(line *Line)
	LineRead       func(line *Line)
	LineSend       func(line *Line)
	STSPolicyFn    func(policy STSPolicy)
	ResumePolicyFn func(policy ResumePolicy)
}

// NewSession builds a Session ready to Connect; the throttle starts at the
// unthrottled pre-registration rate per spec.md §4.1.
func NewSession(params ConnectionParams) *Session {
	s := &Session{
		params:       params,
		state:        newSessionState(params.Nickname),
		sendQueue:    NewSendQueue(),
		throttle:     NewThrottle(PreregisterRateLimit, PreregisterRatePeriod),
		waitRegister: make(chan *waitEntry),
		injected:     make(chan *Line, 16),
		closeCh:      make(chan struct{}),
	}
	s.selfHostmask.Store(&Hostmask{Nickname: params.Nickname})
	return s
}

// snapshotSelfHostmask publishes dispatchLoop's current view of our own
// nick/user/host for sendLoop's self-echo synthesis. Must only be called
// from dispatchLoop, the sole owner/mutator of sessionState.
func (s *Session) snapshotSelfHostmask() {
	s.selfHostmask.Store(&Hostmask{
		Nickname: s.state.nick,
		Username: s.state.username,
		Hostname: s.state.hostname,
	})
}

// State exposes the session's tracked nick/ISUPPORT/channel state.
func (s *Session) State() *sessionState { return s.state }

// Caps returns the outcome of CAP negotiation, or nil before Connect.
func (s *Session) Caps() *negotiatedCaps { return s.caps }

// Connect runs the full handshake over transport: optional PASS, CAP
// negotiation (possibly aborting for STS reconnect or resume success), then
// NICK/USER, blocking until RPL_WELCOME or an error/timeout.
func (s *Session) Connect(transport Transport) error {
	s.transport = transport
	s.tls = isTLSTransport(transport)

	lines := make(chan *Line, 32)
	readErrs := make(chan error, 1)
	go s.readPump(lines, readErrs)
	go s.dispatchLoop(lines, readErrs)
	go s.sendLoop()

	if s.params.Password != "" {
		s.sendLine(PriorityHigh, Format("PASS", s.params.Password))
	}

	result, negErr := negotiateCaps(s, &s.params)
	if result != nil {
		s.caps = result
		s.labelTag = result.labelTag
		if _, ok := result.agreed["echo-message"]; ok {
			s.echoMessage = true
		}
	}
	if negErr != nil {
		if _, ok := negErr.(*HandshakeCancel); ok {
			s.state.registered = true
			return nil
		}
		return negErr
	}

	s.sendLine(PriorityHigh, Format("NICK", s.params.Nickname))
	s.sendLine(PriorityHigh, Format("USER", s.params.effectiveUsername(), "0", "*", s.params.effectiveRealname()))

	_, err := s.waitForTimeout(WaitTimeout, Numerics("001"))
	return err
}

// Disconnect queues a QUIT and immediately tears down the loops, resolving
// every outstanding SentLine/WaitFor with ErrDisconnected. The QUIT reaches
// the wire only if the send loop has already taken it off the queue when the
// queue closes.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.quitting = true
	s.mu.Unlock()
	s.sendLine(PriorityHigh, Format("QUIT"))
	s.shutdown(ErrDisconnected)
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.disconnectErr = err
		quitting := s.quitting
		s.mu.Unlock()
		close(s.closeCh)
		s.sendQueue.Close()
		if s.transport != nil {
			s.transport.Close()
		}
		if !quitting && s.OnDisconnect != nil {
			s.OnDisconnect(err)
		}
	})
}

// send pushes line onto the outbound queue, attaching the labeled-response
// tag when the cap was agreed; labelSeq stands in for spec.md's
// "sent_line.id" correlation value, assigned before the line is visible to
// the send loop so no race exists between tagging and a concurrent Pop.
func (s *Session) send(priority SendPriority, line *Line) *SendResult {
	label := ""
	if s.labelTag != "" {
		label = strconv.FormatUint(atomic.AddUint64(&s.labelSeq, 1), 10)
		line = line.WithTag(s.labelTag, label)
	}
	sl := s.sendQueue.Push(priority, line)
	return &SendResult{SentLine: sl, label: label}
}

// sendLine is the saslIO/capIO fire-and-forget surface.
func (s *Session) sendLine(priority SendPriority, line *Line) {
	s.send(priority, line)
}

// Send is the public send() of spec.md §4.1.
func (s *Session) Send(priority SendPriority, line *Line) *SentLine {
	return s.send(priority, line).SentLine
}

// SendRaw tokenises text and sends it, per spec.md's send_raw.
func (s *Session) SendRaw(priority SendPriority, text string) *SentLine {
	return s.Send(priority, Tokenise(text))
}

// waitForTimeout is the saslIO/capIO surface and the plain form of wait_for.
func (s *Session) waitForTimeout(timeout time.Duration, m Matcher) (*Line, error) {
	return s.registerWait(timeout, m, "")
}

// WaitFor is the public wait_for(), unbound to any prior send.
func (s *Session) WaitFor(timeout time.Duration, m Matcher) (*Line, error) {
	return s.registerWait(timeout, m, "")
}

// waitForAfter binds after's labeled-response label (if any was assigned)
// into the registration, so a line bearing that label resolves the wait
// even when its payload wouldn't otherwise match m.
func (s *Session) waitForAfter(timeout time.Duration, m Matcher, after *SendResult) (*Line, error) {
	label := ""
	if after != nil {
		label = after.label
	}
	return s.registerWait(timeout, m, label)
}

func (s *Session) registerWait(timeout time.Duration, m Matcher, label string) (*Line, error) {
	entry := &waitEntry{matcher: m, label: label, result: make(chan *Line, 1), deadline: time.Now().Add(timeout)}
	select {
	case s.waitRegister <- entry:
	case <-s.closeCh:
		return nil, ErrDisconnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case line := <-entry.result:
		return line, nil
	case <-timer.C:
		return nil, &WaitForError{Kind: WaitForTimeout}
	case <-s.closeCh:
		return nil, ErrDisconnected
	}
}

// isTLS, requestSTSReconnect, deliverSTSPolicy, deliverResumePolicy
// implement capIO.
func (s *Session) isTLS() bool { return s.tls }

func (s *Session) requestSTSReconnect(newParams ConnectionParams) error {
	if s.Reconnect == nil {
		return nil
	}
	return s.Reconnect(newParams)
}

func (s *Session) deliverSTSPolicy(p STSPolicy) {
	if s.STSPolicyFn != nil {
		s.STSPolicyFn(p)
	}
}

func (s *Session) deliverResumePolicy(p ResumePolicy) {
	if s.ResumePolicyFn != nil {
		s.ResumePolicyFn(p)
	}
}

// SendNick requests a nickname change and waits for its own NICK echo or a
// rejection numeric.
func (s *Session) SendNick(nick string) (*Line, error) {
	sr := s.send(PriorityHigh, Format("NICK", nick))
	return s.waitForAfter(WaitTimeout, Any{
		Responses{Commands: []string{"NICK"}, Params: []ParamMatcher{ParamLiteral{Value: nick}}, Source: HostmaskSelf{}},
		Numerics("431", "432", "433", "436"),
	}, sr)
}

// SendJoin joins channel (with an optional key, pass "" for none) and waits
// for our own JOIN echo or a rejection numeric.
func (s *Session) SendJoin(channel, key string) (*Line, error) {
	args := []string{channel}
	if key != "" {
		args = append(args, key)
	}
	sr := s.send(PriorityMedium, Format("JOIN", args...))
	return s.waitForAfter(WaitTimeout, Any{
		Responses{Commands: []string{"JOIN"}, Params: []ParamMatcher{&ParamFolded{Value: channel}}, Source: HostmaskSelf{}},
		Numerics("403", "405", "407", "471", "473", "474", "475", "476"),
	}, sr)
}

// SendPart parts channel and waits for our own PART echo.
func (s *Session) SendPart(channel, reason string) (*Line, error) {
	params := []string{channel}
	if reason != "" {
		params = append(params, reason)
	}
	sr := s.send(PriorityMedium, Format("PART", params...))
	return s.waitForAfter(WaitTimeout, Responses{
		Commands: []string{"PART"},
		Params:   []ParamMatcher{&ParamFolded{Value: channel}},
		Source:   HostmaskSelf{},
	}, sr)
}

// SendMessage sends a PRIVMSG. There is no universal numeric acknowledging
// a successful PRIVMSG, so unlike SendJoin/SendNick/SendWhois it does not
// block on wait_for; delivery failures (401/404) surface through line_read
// like any other line.
func (s *Session) SendMessage(target, text string) *SentLine {
	return s.send(PriorityMedium, Format("PRIVMSG", target, text)).SentLine
}

// SendWhois sends WHOIS and accumulates the numerics a reply is spread
// across into a Whois, all bound to the same labeled-response label so a
// labeled RPL_WHOISUSER resolves even before RPL_ENDOFWHOIS arrives.
func (s *Session) SendWhois(nick string) (*Whois, error) {
	sr := s.send(PriorityMedium, Format("WHOIS", nick))
	w := &Whois{Nickname: nick}
	deadline := time.Now().Add(WaitTimeout)
	matcher := Numerics("311", "312", "313", "317", "319", "330", "671", "338", "378", "318", "401", "402")
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &WaitForError{Kind: WaitForTimeout}
		}
		line, err := s.waitForAfter(remaining, matcher, sr)
		if err != nil {
			return nil, err
		}
		terminal, null := w.applyLine(line)
		if !terminal {
			continue
		}
		if null {
			return nil, ErrNoSuchNick
		}
		return w, nil
	}
}

// readPump does the blocking transport reads and hands parsed lines (or the
// terminal error) to dispatchLoop, so wait_for registrations can be
// serviced between lines without racing the blocking read call, per
// spec.md §5's canonical implementation (a). Idle past PingTimeout sends one
// self-PING; a second idle period without any read disconnects.
func (s *Session) readPump(lines chan<- *Line, errs chan<- error) {
	defer close(lines)
	br := bufio.NewReaderSize(s.transport, 8192)
	pingedIdle := false
	for {
		_ = s.transport.SetReadDeadline(time.Now().Add(PingTimeout))
		raw, err := br.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if !pingedIdle {
					pingedIdle = true
					s.sendLine(PriorityHigh, Format("PING", strconv.FormatInt(time.Now().UnixNano(), 10)))
					continue
				}
				s.deliverReadErr(errs, &ProtocolError{Kind: ProtocolUnexpectedDisconnect, Message: "ping timeout"})
				return
			}
			s.deliverReadErr(errs, &ProtocolError{Kind: ProtocolUnexpectedDisconnect, Message: err.Error()})
			return
		}
		pingedIdle = false
		line, perr := ParseLine(raw)
		if perr != nil {
			continue
		}
		select {
		case lines <- line:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) deliverReadErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-s.closeCh:
	}
}

// dispatchLoop is the sole owner of the wait-for list; it is the "read
// task" of spec.md §5, fed by readPump's line channel, sendLoop's injected
// self-echo channel, and wait_for registrations.
func (s *Session) dispatchLoop(lines <-chan *Line, readErrs <-chan error) {
	var waits []*waitEntry
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case entry := <-s.waitRegister:
			waits = append(waits, entry)
		case line, ok := <-lines:
			if !ok {
				return
			}
			if s.LinePreread != nil {
				s.LinePreread(line)
			}
			waits = s.resolveWaits(waits, line)
			s.onRead(line)
			if s.LineRead != nil {
				s.LineRead(line)
			}
		case line := <-s.injected:
			waits = s.resolveWaits(waits, line)
			if s.LineRead != nil {
				s.LineRead(line)
			}
		case now := <-ticker.C:
			waits = expireWaits(waits, now)
		case err := <-readErrs:
			s.shutdown(err)
			return
		case <-s.closeCh:
			return
		}
	}
}

// resolveWaits resolves at most the first registered WaitFor whose matcher
// (or bound label) matches line, per spec.md §5's "first in registration
// order, at most one resolved per line" invariant.
func (s *Session) resolveWaits(waits []*waitEntry, line *Line) []*waitEntry {
	idx := -1
	for i, w := range waits {
		matched := false
		if w.label != "" {
			if v, ok := line.Tag(s.labelTag); ok && v == w.label {
				matched = true
			}
		}
		if !matched {
			matched = w.matcher.Match(s.state, line)
		}
		if matched {
			idx = i
			break
		}
	}
	if idx == -1 {
		return waits
	}
	waits[idx].result <- line
	return append(waits[:idx], waits[idx+1:]...)
}

func expireWaits(waits []*waitEntry, now time.Time) []*waitEntry {
	out := waits[:0]
	for _, w := range waits {
		if now.After(w.deadline) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// onRead runs the internal effects spec.md §4.1 lists: auto-PONG, ISUPPORT
// bookkeeping, registration completion, nickname fallback/regain, channel
// membership tracking, and WHO-after-JOIN sequencing.
func (s *Session) onRead(line *Line) {
	switch line.Command {
	case "PING":
		s.sendLine(PriorityHigh, Format("PONG", line.Param(0)))
	case "005":
		s.state.applyISUPPORT(line)
	case "001":
		s.state.nick = line.Param(0)
		s.state.registered = true
		s.snapshotSelfHostmask()
		s.throttle.Reconfigure(RegisteredRateLimit, RegisteredRatePeriod)
		s.sendLine(PriorityDefault, Format("WHO", s.state.nick))
		s.joinAutojoinBatches()
	case "432", "433", "436":
		s.handleNickFallback()
	case "376", "422":
		s.maybeRegainNick()
	case "731":
		s.handleMonOffline(line)
	case "NICK":
		s.handleNickChange(line)
	case "JOIN":
		s.handleJoin(line)
	case "PART":
		s.handlePart(line)
	case "KICK":
		s.handleKick(line)
	case "QUIT":
		s.handleQuit(line)
	case "315":
		s.handleEndOfWHO(line)
	}
}

// handleNickFallback pops the next alternate nickname on ERR_NICKNAMEINUSE/
// ERR_ERRONEUSNICKNAME/ERR_NICKCOLLISION, or QUITs once exhausted.
func (s *Session) handleNickFallback() {
	if s.altIdx >= len(s.params.AltNicknames) {
		s.sendLine(PriorityHigh, Format("QUIT", "nickname unavailable"))
		return
	}
	next := s.params.AltNicknames[s.altIdx]
	s.altIdx++
	s.sendLine(PriorityHigh, Format("NICK", next))
}

// maybeRegainNick, invoked at end-of-MOTD, starts watching the originally
// desired nickname via MONITOR if we ended up on a fallback.
func (s *Session) maybeRegainNick() {
	if s.state.Casefold(s.state.nick) != s.state.Casefold(s.params.Nickname) {
		s.sendLine(PriorityLow, Format("MONITOR", "+", s.params.Nickname))
	}
}

// handleMonOffline reclaims the desired nickname once MONITOR reports it
// went offline (RPL_MONOFFLINE).
func (s *Session) handleMonOffline(line *Line) {
	for _, nick := range strings.Split(line.Param(1), ",") {
		if s.state.Casefold(nick) == s.state.Casefold(s.params.Nickname) {
			s.sendLine(PriorityHigh, Format("NICK", s.params.Nickname))
		}
	}
}

func (s *Session) handleNickChange(line *Line) {
	if line.Hostmask == nil {
		return
	}
	oldNick := line.Hostmask.Nickname
	newNick := line.Param(0)
	if s.state.Casefold(oldNick) == s.state.Casefold(s.state.nick) {
		s.state.renameSelf(newNick)
		s.snapshotSelfHostmask()
		return
	}
	for _, ch := range s.state.channels {
		s.state.renameMember(ch.name, oldNick, newNick)
	}
}

func (s *Session) handleJoin(line *Line) {
	if line.Hostmask == nil {
		return
	}
	channel := line.Param(0)
	s.state.addMember(channel, line.Hostmask.Nickname)
	if s.state.Casefold(line.Hostmask.Nickname) == s.state.Casefold(s.state.nick) {
		s.enqueueWHO(channel)
	}
}

func (s *Session) handlePart(line *Line) {
	if line.Hostmask == nil {
		return
	}
	channel := line.Param(0)
	if s.state.Casefold(line.Hostmask.Nickname) == s.state.Casefold(s.state.nick) {
		s.state.removeChannel(channel)
		return
	}
	s.state.removeMember(channel, line.Hostmask.Nickname)
}

func (s *Session) handleKick(line *Line) {
	channel := line.Param(0)
	kicked := line.Param(1)
	if s.state.Casefold(kicked) == s.state.Casefold(s.state.nick) {
		s.state.removeChannel(channel)
		return
	}
	s.state.removeMember(channel, kicked)
}

func (s *Session) handleQuit(line *Line) {
	if line.Hostmask == nil {
		return
	}
	nick := line.Hostmask.Nickname
	for _, ch := range s.state.channels {
		if _, ok := ch.members[s.state.Casefold(nick)]; ok {
			s.state.removeMember(ch.name, nick)
		}
	}
}

func (s *Session) handleEndOfWHO(line *Line) {
	if len(s.whoQueue) == 0 {
		return
	}
	if s.state.Casefold(line.Param(1)) == s.state.Casefold(s.whoQueue[0]) {
		s.whoQueue = s.whoQueue[1:]
		s.startNextWHO()
	}
}

// enqueueWHO and startNextWHO implement the "at most one outstanding WHO"
// ordering of spec.md §4.1.
func (s *Session) enqueueWHO(channel string) {
	s.whoQueue = append(s.whoQueue, channel)
	if len(s.whoQueue) == 1 {
		s.startNextWHO()
	}
}

func (s *Session) startNextWHO() {
	if len(s.whoQueue) == 0 {
		return
	}
	s.sendLine(PriorityLow, Format("WHO", s.whoQueue[0]))
}

func (s *Session) joinAutojoinBatches() {
	const batchSize = 10
	for i := 0; i < len(s.params.Autojoin); i += batchSize {
		end := i + batchSize
		if end > len(s.params.Autojoin) {
			end = len(s.params.Autojoin)
		}
		s.sendLine(PriorityMedium, Format("JOIN", strings.Join(s.params.Autojoin[i:end], ",")))
	}
}

// sendLoop drains the outbound queue in batches of up to 5 (or 1, if the
// queue was empty and a single line just arrived), paced by the throttle,
// synthesizing self-echo copies of un-acked PRIVMSG/NOTICE/TAGMSG once the
// whole batch has been flushed.
func (s *Session) sendLoop() {
	for {
		batch := s.sendQueue.PopBatch(5)
		if len(batch) == 0 {
			sl, ok := s.sendQueue.Pop()
			if !ok {
				return
			}
			batch = []*SentLine{sl}
		}
		for i, sl := range batch {
			s.throttle.Wait()
			if s.LinePresend != nil {
				s.LinePresend(sl.line)
			}
			if _, err := s.transport.Write([]byte(sl.line.String() + "\r\n")); err != nil {
				sl.done <- err
				for _, rest := range batch[i+1:] {
					rest.done <- ErrDisconnected
				}
				s.shutdown(err)
				return
			}
			sl.done <- nil
			if s.LineSend != nil {
				s.LineSend(sl.line)
			}
		}
		for _, sl := range batch {
			s.maybeSynthesizeEcho(sl.line)
		}
	}
}

// maybeSynthesizeEcho injects a locally-sourced copy of an un-echoed
// PRIVMSG/NOTICE/TAGMSG into the dispatch loop, per spec.md §4.1's
// self-echo requirement when echo-message was not agreed.
func (s *Session) maybeSynthesizeEcho(line *Line) {
	switch line.Command {
	case "PRIVMSG", "NOTICE", "TAGMSG":
	default:
		return
	}
	if s.echoMessage {
		return
	}
	hm := s.selfHostmask.Load().(*Hostmask)
	echo := &Line{
		Tags:     line.Tags,
		Source:   hm.Nickname,
		Hostmask: hm,
		Command:  line.Command,
		Params:   line.Params,
	}
	select {
	case s.injected <- echo:
	case <-s.closeCh:
	}
}

func isTLSTransport(t Transport) bool {
	_, ok := t.(*tls.Conn)
	return ok
}
