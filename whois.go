package irc

import "strings"

// Whois accumulates the numerics a WHOIS reply is spread across, mirroring
// the field set of original_source/ircrobots/struct.py's Whois dataclass,
// supplemented with the actual-host/actual-IP fields many real-world IRCds
// send (RPL_WHOISACTUALLY, RPL_WHOISHOST) that the distillation omitted.
type Whois struct {
	Nickname string
	Username string
	Hostname string
	Realname string

	Server     string
	ServerInfo string
	Operator   bool
	Secure     bool

	SignonUnix int64
	IdleSecs   int64

	Account string

	Channels []string

	// ActualHostname/ActualIP come from RPL_WHOISACTUALLY (338), sent by
	// many IRCds revealing the connecting host behind a cloak/vhost.
	ActualHostname string
	ActualIP       string

	// RegisteredHost comes from RPL_WHOISHOST (378), an InspIRCd/UnrealIRCd
	// extension reporting the real connecting hostname to opers.
	RegisteredHost string

	done bool
}

// Done reports whether RPL_ENDOFWHOIS (or a terminating error numeric) has
// been observed for this accumulator.
func (w *Whois) Done() bool { return w.done }

// applyLine folds one WHOIS-family numeric into the accumulator. terminal is
// true once RPL_ENDOFWHOIS or one of the two null-result errors decided in
// DESIGN.md's Open Questions has been applied; null distinguishes the
// latter so the caller can report "no such nick" as a nil result rather than
// a mostly-empty Whois.
func (w *Whois) applyLine(line *Line) (terminal, null bool) {
	switch line.Command {
	case "311": // RPL_WHOISUSER
		w.Nickname = line.Param(1)
		w.Username = line.Param(2)
		w.Hostname = line.Param(3)
		w.Realname = line.Param(len(line.Params) - 1)
	case "312": // RPL_WHOISSERVER
		w.Server = line.Param(2)
		w.ServerInfo = line.Param(len(line.Params) - 1)
	case "313": // RPL_WHOISOPERATOR
		w.Operator = true
	case "317": // RPL_WHOISIDLE
		w.IdleSecs = parseInt64OrZero(line.Param(2))
		if len(line.Params) > 3 {
			w.SignonUnix = parseInt64OrZero(line.Param(3))
		}
	case "319": // RPL_WHOISCHANNELS
		w.Channels = append(w.Channels, strings.Fields(line.Param(len(line.Params)-1))...)
	case "330": // RPL_WHOISACCOUNT
		w.Account = line.Param(2)
	case "671": // RPL_WHOISSECURE
		w.Secure = true
	case "338": // RPL_WHOISACTUALLY
		if len(line.Params) >= 4 {
			w.ActualHostname = line.Param(2)
			w.ActualIP = line.Param(3)
		}
	case "378": // RPL_WHOISHOST
		w.RegisteredHost = line.Param(len(line.Params) - 1)
	case "318": // RPL_ENDOFWHOIS
		w.done = true
		return true, false
	case "401", "402": // ERR_NOSUCHNICK, ERR_NOSUCHSERVER
		w.done = true
		return true, true
	}
	return false, false
}

func parseInt64OrZero(s string) int64 {
	v, err := parsePositiveInt64(s)
	if err != nil {
		return 0
	}
	return v
}

