package irc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
)

// TLSMode selects the transport's TLS verification behaviour.
type TLSMode int

const (
	TLSNone TLSMode = iota
	TLSVerifyChain
	TLSNoVerify
	TLSVerifySHA512Pinned
)

// SASLParams describes how a session should authenticate via SASL.
type SASLParams struct {
	Mechanism string // "EXTERNAL", "USERPASS", or "SCRAM"
	Username  string
	Password  string
}

// NewSASLUserPass builds SASL params that try SCRAM-SHA-512, -256, -1, then
// PLAIN, in that order.
func NewSASLUserPass(username, password string) *SASLParams {
	return &SASLParams{Mechanism: "USERPASS", Username: username, Password: password}
}

// NewSASLSCRAM builds SASL params restricted to the SCRAM mechanisms.
func NewSASLSCRAM(username, password string) *SASLParams {
	return &SASLParams{Mechanism: "SCRAM", Username: username, Password: password}
}

// NewSASLExternal builds SASL params for the EXTERNAL (certificate-based)
// mechanism.
func NewSASLExternal() *SASLParams {
	return &SASLParams{Mechanism: "EXTERNAL"}
}

// STSPolicy is a cached Strict Transport Security policy for a server,
// persisted between sessions via the Session.STSPolicyFn callback.
type STSPolicy struct {
	CreatedUnix int64
	Port        int
	Duration    int64
	Preload     bool
}

// Expired reports whether the policy's duration has elapsed.
func (p STSPolicy) Expired(now time.Time) bool {
	return now.Unix() >= p.CreatedUnix+p.Duration
}

// ResumePolicy records the address + token needed to resume a prior
// session, persisted via the Session.ResumePolicyFn callback.
type ResumePolicy struct {
	Address string
	Token   string
}

// ProxyParams describes an optional SOCKS4/SOCKS5/HTTP proxy to dial
// through.
type ProxyParams struct {
	Type     string // "socks4", "socks5", "http"
	Address  string
	Username string
	Password string
}

// ConnectionParams is the typed configuration for one IRC session.
type ConnectionParams struct {
	Nickname string
	Host     string
	Port     int
	TLS      TLSMode

	Username string
	Realname string
	Bindhost string
	Password string

	// TLSPinnedSHA512 is the lowercase hex SHA-512 digest of the peer
	// certificate's DER encoding, required when TLS == TLSVerifySHA512Pinned.
	TLSPinnedSHA512 string

	SASL *SASLParams
	STS  *STSPolicy

	Resume *ResumePolicy

	Proxy    *ProxyParams
	Encoding encoding.Encoding

	// ReconnectSeconds is the supervisor's initial reconnect delay.
	ReconnectSeconds int

	AltNicknames []string
	Autojoin     []string

	DesiredCaps []string
}

// DefaultAltNicknames is used when ConnectionParams.AltNicknames is unset.
func DefaultAltNicknames(nick string) []string {
	return []string{nick + "_", nick + "__", nick + "___"}
}

// NewConnectionParams builds ConnectionParams with spec defaults filled in:
// reconnect_seconds=10, alt_nicknames derived from nickname.
func NewConnectionParams(nickname, host string, port int) ConnectionParams {
	return ConnectionParams{
		Nickname:         nickname,
		Host:             host,
		Port:             port,
		TLS:              TLSNone,
		ReconnectSeconds: 10,
		AltNicknames:     DefaultAltNicknames(nickname),
	}
}

// effectiveUsername/effectiveRealname fall back to nickname, as the
// handshake's USER line requires.
func (p ConnectionParams) effectiveUsername() string {
	if p.Username != "" {
		return p.Username
	}
	return p.Nickname
}

func (p ConnectionParams) effectiveRealname() string {
	if p.Realname != "" {
		return p.Realname
	}
	return p.Nickname
}

// ParseHostString parses the CLI host-string shorthand:
// host[:[+|~]port]. A leading '+' selects verify-chain TLS with a default
// port of 6697; a leading '~' selects no-verify TLS, same default port; no
// prefix with an explicit port is plain TCP on that port; no port at all is
// plain TCP on 6667. IPv6 hosts are given in [..] form.
func ParseHostString(s string) (host string, port int, tls TLSMode, err error) {
	if s == "" {
		return "", 0, TLSNone, fmt.Errorf("empty host string")
	}

	// Split [ipv6]:port vs host:port, respecting bracketed IPv6 literals.
	var hostPart, portPart string
	hasPort := false
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end == -1 {
			return "", 0, TLSNone, fmt.Errorf("unterminated ipv6 literal in %q", s)
		}
		hostPart = s[1:end]
		rest := s[end+1:]
		if strings.HasPrefix(rest, ":") {
			hasPort = true
			portPart = rest[1:]
		} else if rest != "" {
			return "", 0, TLSNone, fmt.Errorf("malformed host string %q", s)
		}
	} else if i := strings.IndexByte(s, ':'); i > -1 {
		hostPart = s[:i]
		hasPort = true
		portPart = s[i+1:]
	} else {
		hostPart = s
	}

	if !hasPort {
		return hostPart, 6667, TLSNone, nil
	}

	switch {
	case strings.HasPrefix(portPart, "+"):
		tls = TLSVerifyChain
		portPart = portPart[1:]
	case strings.HasPrefix(portPart, "~"):
		tls = TLSNoVerify
		portPart = portPart[1:]
	default:
		tls = TLSNone
	}

	if portPart == "" {
		if tls == TLSNone {
			return "", 0, TLSNone, fmt.Errorf("port missing in %q", s)
		}
		return hostPart, 6697, tls, nil
	}

	p, err := strconv.Atoi(portPart)
	if err != nil {
		return "", 0, TLSNone, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return hostPart, p, tls, nil
}
