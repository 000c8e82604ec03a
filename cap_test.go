package irc

import (
	"testing"
	"time"
)

// scriptedCapIO extends scriptedSASLIO with the extra capIO surface, all
// recorded/stubbed for assertions.
type scriptedCapIO struct {
	scriptedSASLIO
	tls             bool
	reconnectParams *ConnectionParams
	stsPolicy       *STSPolicy
	resumePolicy    *ResumePolicy
}

func (s *scriptedCapIO) isTLS() bool { return s.tls }
func (s *scriptedCapIO) requestSTSReconnect(p ConnectionParams) error {
	s.reconnectParams = &p
	return nil
}
func (s *scriptedCapIO) deliverSTSPolicy(p STSPolicy)       { s.stsPolicy = &p }
func (s *scriptedCapIO) deliverResumePolicy(p ResumePolicy) { s.resumePolicy = &p }

func capLine(params ...string) *Line { return Format("CAP", params...) }

func TestNegotiateCapsBasicAckFlow(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "multi-prefix away-notify"),
		capLine("*", "ACK", "multi-prefix away-notify"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6667)

	result, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("negotiateCaps: unexpected error %v", err)
	}
	if _, ok := result.agreed["multi-prefix"]; !ok {
		t.Error("expected multi-prefix to be agreed")
	}
	if _, ok := result.agreed["away-notify"]; !ok {
		t.Error("expected away-notify to be agreed")
	}

	// Last line sent should be CAP END.
	last := io.sent[len(io.sent)-1]
	if last.Command != "CAP" || last.Param(0) != "END" {
		t.Errorf("last sent line = %v, want CAP END", last)
	}
}

func TestNegotiateCapsNAKDropsCapability(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "multi-prefix"),
		capLine("*", "NAK", "multi-prefix"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6667)

	result, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.agreed["multi-prefix"]; ok {
		t.Error("expected multi-prefix NOT to be agreed after NAK")
	}
}

func TestNegotiateCapsMultiBatchLS(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "*", "multi-prefix"),
		capLine("*", "LS", "away-notify"),
		capLine("*", "ACK", "multi-prefix away-notify"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6667)

	result, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.agreed) != 2 {
		t.Errorf("agreed = %v, want both multi-prefix and away-notify", result.agreed)
	}
}

func TestNegotiateCapsSASLGating(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "sasl=PLAIN"),
		capLine("*", "ACK", "sasl"),
		authLine("+"),
		numericLine("903"),
	}}}
	params := NewConnectionParams("bob", "irc.example.org", 6667)
	params.SASL = NewSASLUserPass("bob", "pw")

	result, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.saslResult != SASLResultSuccess {
		t.Errorf("saslResult = %v, want SUCCESS", result.saslResult)
	}
}

func TestNegotiateCapsSTSUpgradeAbortsHandshake(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "sts=port=6697,duration=3600"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6667)

	_, err := negotiateCaps(io, &params)
	sts, ok := err.(*STSReconnectRequired)
	if !ok {
		t.Fatalf("expected *STSReconnectRequired, got %v (%T)", err, err)
	}
	if sts.NewParams.Port != 6697 || sts.NewParams.TLS != TLSVerifyChain {
		t.Errorf("new params = %+v, want port 6697 verify-chain TLS", sts.NewParams)
	}
	if io.reconnectParams == nil || io.reconnectParams.Port != 6697 {
		t.Error("expected requestSTSReconnect to have been called with the upgraded params")
	}
}

func TestNegotiateCapsSTSPolicyDeliveredWhenAlreadyTLS(t *testing.T) {
	io := &scriptedCapIO{tls: true, scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "sts=duration=3600,preload"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6697)
	params.TLS = TLSVerifyChain

	_, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if io.stsPolicy == nil {
		t.Fatal("expected sts_policy callback to be invoked")
	}
	if io.stsPolicy.Duration != 3600 || !io.stsPolicy.Preload {
		t.Errorf("delivered policy = %+v, want duration 3600 preload true", io.stsPolicy)
	}
}

func TestNegotiateCapsSTSPolicyUsesAdvertisedPort(t *testing.T) {
	io := &scriptedCapIO{tls: true, scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "sts=port=9999,duration=3600"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6697)
	params.TLS = TLSVerifyChain

	_, err := negotiateCaps(io, &params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if io.stsPolicy == nil {
		t.Fatal("expected sts_policy callback to be invoked")
	}
	if io.stsPolicy.Port != 9999 {
		t.Errorf("delivered policy port = %d, want the advertised 9999, not the live connection's 6697", io.stsPolicy.Port)
	}
}

func TestNegotiateCapsResumeSuccessCancelsHandshake(t *testing.T) {
	io := &scriptedCapIO{scriptedSASLIO: scriptedSASLIO{replies: []*Line{
		capLine("*", "LS", "draft/resume-0.5"),
		capLine("*", "ACK", "draft/resume-0.5"),
		Format("RESUME", "TOKEN", "newtok123"),
		Format("RESUME", "SUCCESS"),
	}}}
	params := NewConnectionParams("alice", "irc.example.org", 6667)
	params.Resume = &ResumePolicy{Address: "irc.example.org", Token: "oldtok"}

	_, err := negotiateCaps(io, &params)
	cancel, ok := err.(*HandshakeCancel)
	if !ok {
		t.Fatalf("expected *HandshakeCancel, got %v (%T)", err, err)
	}
	if cancel.Reason == "" {
		t.Error("expected a non-empty cancellation reason")
	}
	if io.resumePolicy == nil || io.resumePolicy.Token != "newtok123" {
		t.Errorf("expected resume_policy delivered with new token, got %+v", io.resumePolicy)
	}

	// CAP END must NOT have been sent on the resume-success path.
	for _, l := range io.sent {
		if l.Command == "CAP" && l.Param(0) == "END" {
			t.Error("expected CAP END to be skipped when resume succeeds")
		}
	}
}

func TestSTSPolicyExpired(t *testing.T) {
	p := STSPolicy{CreatedUnix: 1000, Duration: 3600}
	if p.Expired(time.Unix(1000+3600-1, 0)) {
		t.Error("policy should not be expired one second early")
	}
	if !p.Expired(time.Unix(1000+3600, 0)) {
		t.Error("policy should be expired exactly at duration boundary")
	}
}
