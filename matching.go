package irc

import "regexp"

// casefolder is the minimal session surface matchers need: casefolding and
// self-identity. Session implements it.
type casefolder interface {
	Casefold(s string) string
	SelfNick() string
}

// Matcher is the closed sum type of line predicates. The concrete
// implementations below are the only ones; there is deliberately no public
// constructor for arbitrary user-defined matchers, per the spec's
// "declarative predicate" design.
type Matcher interface {
	Match(s casefolder, line *Line) bool
}

// ParamMatcher is the closed sum type of positional-parameter predicates.
type ParamMatcher interface {
	MatchParam(s casefolder, arg string) bool
}

// HostmaskMatcher is the closed sum type of hostmask predicates.
type HostmaskMatcher interface {
	MatchHostmask(s casefolder, hm *Hostmask) bool
}

// Responses matches a line whose command is in Commands, whose positional
// parameters (indexed from 0) each satisfy the corresponding ParamMatcher
// in Params, and whose source (if Source is set) satisfies Source.
type Responses struct {
	Commands []string
	Params   []ParamMatcher
	Source   HostmaskMatcher
}

func (r Responses) Match(s casefolder, line *Line) bool {
	match := false
	for _, c := range r.Commands {
		if line.Command == c {
			match = true
			break
		}
	}
	if !match {
		return false
	}
	if r.Source != nil {
		if line.Hostmask == nil || !r.Source.MatchHostmask(s, line.Hostmask) {
			return false
		}
	}
	for i, p := range r.Params {
		if i >= len(line.Params) || !p.MatchParam(s, line.Params[i]) {
			return false
		}
	}
	return true
}

// Response is Responses restricted to a single command, for readability at
// call sites.
func Response(command string, params ...ParamMatcher) Responses {
	return Responses{Commands: []string{command}, Params: params}
}

// Numerics matches a line whose command is any of the given numerics,
// ignoring parameters.
func Numerics(numerics ...string) Responses {
	return Responses{Commands: numerics}
}

// Any is the disjunction of several matchers.
type Any []Matcher

func (a Any) Match(s casefolder, line *Line) bool {
	for _, m := range a {
		if m.Match(s, line) {
			return true
		}
	}
	return false
}

// AnyParam matches any positional argument.
type AnyParam struct{}

func (AnyParam) MatchParam(casefolder, string) bool { return true }

// ParamLiteral matches a positional argument against an exact string.
type ParamLiteral struct{ Value string }

func (p ParamLiteral) MatchParam(_ casefolder, arg string) bool { return arg == p.Value }

// ParamFolded matches a positional argument against Value, casefolding
// both sides using the session's ISUPPORT CASEMAPPING. The folded form of
// Value is memoized on first match.
type ParamFolded struct {
	Value  string
	folded *string
}

func (p *ParamFolded) MatchParam(s casefolder, arg string) bool {
	if p.folded == nil {
		f := s.Casefold(p.Value)
		p.folded = &f
	}
	return *p.folded == s.Casefold(arg)
}

// ParamFormatless strips IRC formatting from arg before an exact compare.
type ParamFormatless struct{ Value string }

func (p ParamFormatless) MatchParam(_ casefolder, arg string) bool {
	return Strip(arg) == p.Value
}

// ParamRegex matches a positional argument against a compiled regular
// expression.
type ParamRegex struct{ Re *regexp.Regexp }

func (p ParamRegex) MatchParam(_ casefolder, arg string) bool { return p.Re.MatchString(arg) }

// ParamSelf matches a positional argument equal to the session's own
// casefolded nickname.
type ParamSelf struct{}

func (ParamSelf) MatchParam(s casefolder, arg string) bool {
	return s.Casefold(arg) == s.Casefold(s.SelfNick())
}

// ParamNot negates an inner ParamMatcher.
type ParamNot struct{ Inner ParamMatcher }

func (p ParamNot) MatchParam(s casefolder, arg string) bool { return !p.Inner.MatchParam(s, arg) }

// HostmaskNick matches a hostmask whose nickname folds equal to Nick.
type HostmaskNick struct {
	Nick   string
	folded *string
}

func (h *HostmaskNick) MatchHostmask(s casefolder, hm *Hostmask) bool {
	if h.folded == nil {
		f := s.Casefold(h.Nick)
		h.folded = &f
	}
	return *h.folded == s.Casefold(hm.Nickname)
}

// HostmaskMask matches a hostmask whose "nick!user@host" form matches a
// glob pattern.
type HostmaskMask struct {
	glob *Glob
}

// NewHostmaskMask compiles pattern as a hostmask glob matcher.
func NewHostmaskMask(pattern string) *HostmaskMask {
	return &HostmaskMask{glob: Compile(pattern)}
}

func (h *HostmaskMask) MatchHostmask(_ casefolder, hm *Hostmask) bool {
	return h.glob.Match(hm.Nickname + "!" + hm.Username + "@" + hm.Hostname)
}

// HostmaskSelf matches a hostmask whose nickname folds equal to the
// session's own current nickname; user and host are not compared.
type HostmaskSelf struct{}

func (HostmaskSelf) MatchHostmask(s casefolder, hm *Hostmask) bool {
	return s.Casefold(hm.Nickname) == s.Casefold(s.SelfNick())
}
