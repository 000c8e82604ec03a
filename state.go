package irc

import "strings"

// channelMember is one nickname's membership record in a channel, holding
// the subset of ircstates.ChannelUser fields this session tracks.
type channelMember struct {
	nick   string
	prefix string // highest-priority mode prefix, e.g. "@" or "+"
}

// channelState is the tracked membership of one joined channel.
type channelState struct {
	name    string
	members map[string]*channelMember // keyed by casefolded nick
}

// sessionState is the minimal per-session IRC state: current nickname,
// negotiated ISUPPORT tokens, and channel membership — standing in for the
// Python `ircstates` sub-library spec.md §3 assumes is available. Mutated
// only by the read loop (spec.md §5's "no shared field requires a lock"
// policy), so it carries no locking of its own.
type sessionState struct {
	nick     string
	username string
	hostname string

	casemapping Casemapping
	isupport    map[string]string

	channels map[string]*channelState // keyed by casefolded channel name

	registered bool
}

func newSessionState(nick string) *sessionState {
	return &sessionState{
		nick:        nick,
		casemapping: CasemappingRFC1459,
		isupport:    make(map[string]string),
		channels:    make(map[string]*channelState),
	}
}

// Casefold folds s per the negotiated CASEMAPPING ISUPPORT token.
func (s *sessionState) Casefold(str string) string {
	return Casefold(s.casemapping, str)
}

// SelfNick returns the session's current nickname, satisfying the
// casefolder interface matchers need.
func (s *sessionState) SelfNick() string { return s.nick }

// applyISUPPORT folds one RPL_ISUPPORT (005) line's tokens into state,
// tracking CASEMAPPING specially since Folded matchers depend on it.
func (s *sessionState) applyISUPPORT(line *Line) {
	// Params: [nick, token1, token2, ..., :are supported by this server]
	for _, tok := range line.Params[1 : len(line.Params)-1] {
		if tok == "" || strings.HasPrefix(tok, ":") {
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		key := kv[0]
		if strings.HasPrefix(key, "-") {
			delete(s.isupport, key[1:])
			continue
		}
		value := ""
		if len(kv) == 2 {
			value = kv[1]
		}
		s.isupport[key] = value
		if key == "CASEMAPPING" {
			s.casemapping = ParseCasemapping(value)
		}
	}
}

// channelTypes returns the ISUPPORT CHANTYPES set, defaulting to "#&" when
// the server hasn't advertised one yet.
func (s *sessionState) channelTypes() string {
	if v, ok := s.isupport["CHANTYPES"]; ok && v != "" {
		return v
	}
	return "#&"
}

// isChannel reports whether target looks like a channel name per
// CHANTYPES.
func (s *sessionState) isChannel(target string) bool {
	return len(target) > 0 && strings.ContainsRune(s.channelTypes(), rune(target[0]))
}

// statusPrefixes returns the ISUPPORT PREFIX token's mode-letter and
// symbol runs, e.g. "ov" and "@+" from "(ov)@+".
func (s *sessionState) statusPrefixes() (modes, symbols string) {
	v, ok := s.isupport["PREFIX"]
	if !ok || !strings.HasPrefix(v, "(") {
		return "ov", "@+"
	}
	closeIdx := strings.IndexByte(v, ')')
	if closeIdx < 0 {
		return "ov", "@+"
	}
	return v[1:closeIdx], v[closeIdx+1:]
}

// ensureChannel returns the tracked state for a channel, creating it if
// this is the first time it's seen (typically our own JOIN).
func (s *sessionState) ensureChannel(name string) *channelState {
	key := s.Casefold(name)
	ch, ok := s.channels[key]
	if !ok {
		ch = &channelState{name: name, members: make(map[string]*channelMember)}
		s.channels[key] = ch
	}
	return ch
}

func (s *sessionState) removeChannel(name string) {
	delete(s.channels, s.Casefold(name))
}

func (s *sessionState) addMember(channel, nick string) {
	ch := s.ensureChannel(channel)
	ch.members[s.Casefold(nick)] = &channelMember{nick: nick}
}

func (s *sessionState) removeMember(channel, nick string) {
	key := s.Casefold(channel)
	ch, ok := s.channels[key]
	if !ok {
		return
	}
	delete(ch.members, s.Casefold(nick))
	if len(ch.members) == 0 {
		delete(s.channels, key)
	}
}

func (s *sessionState) renameMember(channel, oldNick, newNick string) {
	ch, ok := s.channels[s.Casefold(channel)]
	if !ok {
		return
	}
	oldKey := s.Casefold(oldNick)
	member, ok := ch.members[oldKey]
	if !ok {
		return
	}
	delete(ch.members, oldKey)
	member.nick = newNick
	ch.members[s.Casefold(newNick)] = member
}

// renameSelf updates the tracked nickname and every channel's membership
// key for it, used on a successful NICK change (ours or self-inflicted by
// ERR_NICKNAMEINUSE fallback).
func (s *sessionState) renameSelf(newNick string) {
	old := s.nick
	s.nick = newNick
	for _, ch := range s.channels {
		oldKey := s.Casefold(old)
		if member, ok := ch.members[oldKey]; ok {
			delete(ch.members, oldKey)
			member.nick = newNick
			ch.members[s.Casefold(newNick)] = member
		}
	}
}
