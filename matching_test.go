package irc

import "testing"

type fakeCasefolder struct {
	cm   Casemapping
	self string
}

func (f fakeCasefolder) Casefold(s string) string { return Casefold(f.cm, s) }
func (f fakeCasefolder) SelfNick() string         { return f.self }

func TestResponsesMatch(t *testing.T) {
	s := fakeCasefolder{self: "Alice"}
	m := Response("PRIVMSG", AnyParam{}, ParamLiteral{Value: "hello"})

	line, _ := ParseLine(":alice!u@h PRIVMSG #chan :hello")
	if !m.Match(s, line) {
		t.Error("expected match on literal trailing param")
	}

	line2, _ := ParseLine(":alice!u@h PRIVMSG #chan :goodbye")
	if m.Match(s, line2) {
		t.Error("expected no match on differing literal")
	}
}

func TestResponsesSourceConstraint(t *testing.T) {
	s := fakeCasefolder{self: "Alice"}
	m := Responses{
		Commands: []string{"PRIVMSG"},
		Source:   &HostmaskNick{Nick: "bob"},
	}
	fromBob, _ := ParseLine(":bob!u@h PRIVMSG #chan :hi")
	if !m.Match(s, fromBob) {
		t.Error("expected match on source from bob")
	}
	fromAlice, _ := ParseLine(":alice!u@h PRIVMSG #chan :hi")
	if m.Match(s, fromAlice) {
		t.Error("expected no match on source from alice")
	}
}

func TestParamFoldedMemoizes(t *testing.T) {
	s := fakeCasefolder{cm: CasemappingRFC1459}
	p := &ParamFolded{Value: "#Chan{Name}"}
	if !p.MatchParam(s, "#chan[name]") {
		t.Error("expected folded match across case and {}/[] mapping")
	}
	if p.folded == nil || *p.folded != "#chan[name]" {
		t.Errorf("expected memoized folded value, got %v", p.folded)
	}
}

func TestParamSelf(t *testing.T) {
	s := fakeCasefolder{self: "Alice"}
	p := ParamSelf{}
	if !p.MatchParam(s, "alice") {
		t.Error("expected ParamSelf to match own nick case-insensitively")
	}
	if p.MatchParam(s, "bob") {
		t.Error("expected ParamSelf not to match other nick")
	}
}

func TestParamNot(t *testing.T) {
	s := fakeCasefolder{}
	p := ParamNot{Inner: ParamLiteral{Value: "x"}}
	if !p.MatchParam(s, "y") {
		t.Error("expected Not(Literal(x)) to match y")
	}
	if p.MatchParam(s, "x") {
		t.Error("expected Not(Literal(x)) not to match x")
	}
}

func TestParamFormatless(t *testing.T) {
	s := fakeCasefolder{}
	p := ParamFormatless{Value: "hello"}
	if !p.MatchParam(s, "\x02hello\x02") {
		t.Error("expected formatless match to strip bold codes")
	}
}

func TestAnyDisjunction(t *testing.T) {
	s := fakeCasefolder{}
	a := Any{Response("PING"), Response("PRIVMSG")}
	ping, _ := ParseLine("PING :hi")
	if !a.Match(s, ping) {
		t.Error("expected disjunction to match PING")
	}
	notice, _ := ParseLine("NOTICE x :y")
	if a.Match(s, notice) {
		t.Error("expected disjunction not to match NOTICE")
	}
}

func TestHostmaskMask(t *testing.T) {
	s := fakeCasefolder{}
	h := NewHostmaskMask("*!*@*.example.com")
	if !h.MatchHostmask(s, &Hostmask{Nickname: "bob", Username: "u", Hostname: "irc.example.com"}) {
		t.Error("expected glob hostmask to match")
	}
	if h.MatchHostmask(s, &Hostmask{Nickname: "bob", Username: "u", Hostname: "irc.other.com"}) {
		t.Error("expected glob hostmask not to match different domain")
	}
}

func TestWaitForUniquenessAtMatcherLevel(t *testing.T) {
	// A single line should only be offered to waiters in registration
	// order, and the caller (session) must stop at the first match - this
	// tests that matchers themselves are pure predicates with no side
	// effects that would make "try all, keep first" anything but safe.
	s := fakeCasefolder{self: "Alice"}
	line, _ := ParseLine(":x!y@z 001 Alice :welcome")
	waiters := []Matcher{
		Numerics("001"),
		Numerics("001"),
	}
	matchedCount := 0
	for _, w := range waiters {
		if w.Match(s, line) {
			matchedCount++
			break
		}
	}
	if matchedCount != 1 {
		t.Errorf("expected exactly one waiter to observe the match in this simulation, got %d", matchedCount)
	}
}
