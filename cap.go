package irc

import (
	"strings"
)

// Capability is one named IRCv3 capability, possibly with alternative
// spellings (e.g. a draft name and its standardized successor); the first
// name present in the server's advertised set is the one requested.
type Capability struct {
	Names []string
}

// available reports the first of c.Names present in advertised, if any.
func (c Capability) available(advertised map[string]string) (string, bool) {
	for _, n := range c.Names {
		if _, ok := advertised[n]; ok {
			return n, true
		}
	}
	return "", false
}

// BuiltinCaps is the process-wide default capability set every session
// attempts, per spec.md §4.2; desired_caps extends a per-session copy of
// this slice rather than mutating it (DESIGN NOTES §9, "global caps table").
var BuiltinCaps = []Capability{
	{Names: []string{"multi-prefix"}},
	{Names: []string{"chghost"}},
	{Names: []string{"away-notify"}},
	{Names: []string{"invite-notify"}},
	{Names: []string{"account-tag"}},
	{Names: []string{"account-notify"}},
	{Names: []string{"extended-join"}},
	{Names: []string{"message-tags", "draft/message-tags-0.2"}},
	{Names: []string{"cap-notify"}},
	{Names: []string{"batch"}},
	{Names: []string{"draft/rename"}},
	{Names: []string{"setname", "draft/setname"}},
	{Names: []string{"draft/resume-0.5"}},
	{Names: []string{"labeled-response", "draft/labeled-response-0.2"}},
	{Names: []string{"echo-message"}},
}

// labelTagFor returns the message-tag key used for labeled-response given
// which variant of the capability was agreed.
func labelTagFor(agreedName string) string {
	if agreedName == "draft/labeled-response-0.2" {
		return "draft/label"
	}
	return "label"
}

// capIO is the surface the CAP/STS/resume state machine needs from a
// session beyond plain send/wait: TLS status and the supervisor escape
// hatches for an STS-driven reconnect, plus delivery of the two
// externally-persisted policy callbacks.
type capIO interface {
	saslIO
	isTLS() bool
	requestSTSReconnect(newParams ConnectionParams) error
	deliverSTSPolicy(p STSPolicy)
	deliverResumePolicy(p ResumePolicy)
}

var capLSResponse = Response("CAP", AnyParam{}, ParamLiteral{Value: "LS"})
var capAckNakResponse = Any{
	Response("CAP", AnyParam{}, ParamLiteral{Value: "ACK"}),
	Response("CAP", AnyParam{}, ParamLiteral{Value: "NAK"}),
}
var resumeTokenResponse = Response("RESUME", ParamLiteral{Value: "TOKEN"})
var resumeOutcomeResponse = Any{
	Response("RESUME", ParamLiteral{Value: "SUCCESS"}),
	Response("FAIL", ParamLiteral{Value: "RESUME"}),
}

// negotiatedCaps is the outcome handed back to the session once the CAP
// state machine reaches END_SENT or is cancelled.
type negotiatedCaps struct {
	agreed     map[string]string // agreed cap name -> LS token value (may be "")
	labelTag   string            // "" if no labeled-response variant agreed
	saslResult SASLResult
}

// negotiateCaps drives the full NONE -> LS_PENDING -> (REQ_PENDING ->
// AWAIT_ACK)* -> SASL? -> END_SENT state machine of spec.md §4.2. It
// returns *HandshakeCancel if a resume succeeded (normal registration must
// be aborted), or *STSReconnectRequired if an STS upgrade aborted the
// handshake for a supervisor-driven reconnect.
func negotiateCaps(io capIO, params *ConnectionParams) (*negotiatedCaps, error) {
	io.sendLine(PriorityHigh, Format("CAP", "LS", "302"))

	lsTokens, err := collectLSTokens(io)
	if err != nil {
		return nil, err
	}

	if sts, ok := parseSTS(lsTokens); ok {
		if reconnectErr := applySTS(io, params, sts); reconnectErr != nil {
			return nil, reconnectErr
		}
	}

	candidates := append([]Capability{}, BuiltinCaps...)
	for _, name := range params.DesiredCaps {
		candidates = append(candidates, Capability{Names: []string{name}})
	}
	if params.SASL != nil {
		candidates = append(candidates, Capability{Names: []string{"sasl"}})
	}

	outstanding := make(map[string]bool)
	var toRequest []string
	for _, c := range candidates {
		name, ok := c.available(lsTokens)
		if !ok {
			continue
		}
		if outstanding[name] {
			continue
		}
		outstanding[name] = true
		toRequest = append(toRequest, name)
	}

	agreed := make(map[string]string)
	if len(toRequest) > 0 {
		io.sendLine(PriorityHigh, Format("CAP", "REQ", strings.Join(toRequest, " ")))

		for len(outstanding) > 0 {
			line, err := io.waitForTimeout(WaitTimeout, capAckNakResponse)
			if err != nil {
				break
			}
			isAck := line.Param(1) == "ACK"
			for _, name := range strings.Fields(line.Param(len(line.Params) - 1)) {
				if !outstanding[name] {
					continue
				}
				delete(outstanding, name)
				if isAck {
					agreed[name] = lsTokens[name]
				}
			}
		}
	}

	var cancel *HandshakeCancel
	if _, ok := agreed["draft/resume-0.5"]; ok {
		cancel, err = runResumeSubroutine(io, params)
		if err != nil {
			return nil, err
		}
	}

	var saslResult SASLResult
	if _, ok := agreed["sasl"]; ok && params.SASL != nil {
		var advertisedMechs []string
		if v := lsTokens["sasl"]; v != "" {
			advertisedMechs = strings.Split(v, ",")
		}
		saslResult, _ = saslAuth(io, params.SASL, advertisedMechs)
	}

	labelTag := ""
	if _, ok := agreed["labeled-response"]; ok {
		labelTag = labelTagFor("labeled-response")
	} else if _, ok := agreed["draft/labeled-response-0.2"]; ok {
		labelTag = labelTagFor("draft/labeled-response-0.2")
	}

	if cancel != nil {
		return &negotiatedCaps{agreed: agreed, labelTag: labelTag, saslResult: saslResult}, cancel
	}

	io.sendLine(PriorityHigh, Format("CAP", "END"))
	return &negotiatedCaps{agreed: agreed, labelTag: labelTag, saslResult: saslResult}, nil
}

// collectLSTokens drains one or more "CAP * LS" / "CAP <nick> LS" batches,
// merging their k[=v] tokens. A batch whose third parameter is "*" has more
// batches following; otherwise it is the last.
func collectLSTokens(io capIO) (map[string]string, error) {
	tokens := make(map[string]string)
	for {
		line, err := io.waitForTimeout(WaitTimeout, capLSResponse)
		if err != nil {
			return tokens, err
		}

		var tokenStr string
		more := false
		if line.Param(2) == "*" {
			more = true
			tokenStr = line.Param(3)
		} else {
			tokenStr = line.Param(2)
		}
		for _, tok := range strings.Fields(tokenStr) {
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) == 2 {
				tokens[kv[0]] = kv[1]
			} else {
				tokens[kv[0]] = ""
			}
		}
		if !more {
			return tokens, nil
		}
	}
}

type stsPolicyTokens struct {
	port     int
	duration int64
	preload  bool
	hasPort  bool
	hasDur   bool
}

// parseSTS looks for an "sts"/"draft/sts" LS token and decodes its
// "k=v,..." body.
func parseSTS(lsTokens map[string]string) (stsPolicyTokens, bool) {
	raw, ok := lsTokens["sts"]
	if !ok {
		raw, ok = lsTokens["draft/sts"]
	}
	if !ok {
		return stsPolicyTokens{}, false
	}
	var out stsPolicyTokens
	for _, piece := range strings.Split(raw, ",") {
		kv := strings.SplitN(piece, "=", 2)
		switch kv[0] {
		case "port":
			if len(kv) == 2 {
				if p, err := parsePositiveInt(kv[1]); err == nil {
					out.port = p
					out.hasPort = true
				}
			}
		case "duration":
			if len(kv) == 2 {
				if d, err := parsePositiveInt64(kv[1]); err == nil {
					out.duration = d
					out.hasDur = true
				}
			}
		case "preload":
			out.preload = true
		}
	}
	return out, true
}

// applySTS implements spec.md §4.2's STS branch: a plaintext connection
// offered a port upgrades and reconnects; an already-TLS connection with a
// duration persists the policy for future preloading.
func applySTS(io capIO, params *ConnectionParams, sts stsPolicyTokens) error {
	if !io.isTLS() && sts.hasPort {
		newParams := *params
		newParams.TLS = TLSVerifyChain
		newParams.Port = sts.port
		if err := io.requestSTSReconnect(newParams); err != nil {
			return err
		}
		return &STSReconnectRequired{NewParams: newParams}
	}
	if io.isTLS() && sts.hasDur {
		port := params.Port
		if sts.hasPort {
			port = sts.port
		}
		io.deliverSTSPolicy(STSPolicy{
			CreatedUnix: nowUnix(),
			Port:        port,
			Duration:    sts.duration,
			Preload:     sts.preload,
		})
	}
	return nil
}

// runResumeSubroutine implements spec.md §4.2's resume subroutine: record a
// freshly issued token, and if a previous policy exists attempt to resume
// it before normal registration proceeds.
func runResumeSubroutine(io capIO, params *ConnectionParams) (*HandshakeCancel, error) {
	line, err := io.waitForTimeout(WaitTimeout, resumeTokenResponse)
	if err == nil {
		token := line.Param(1)
		policy := ResumePolicy{Address: params.Host, Token: token}
		io.deliverResumePolicy(policy)
	}

	if params.Resume == nil {
		return nil, nil
	}

	io.sendLine(PriorityHigh, Format("RESUME", params.Resume.Token))
	outcome, err := io.waitForTimeout(WaitTimeout, resumeOutcomeResponse)
	if err != nil {
		return nil, nil
	}
	if outcome.Command == "RESUME" && outcome.Param(0) == "SUCCESS" {
		return &HandshakeCancel{Reason: "resume succeeded"}, nil
	}
	return nil, nil
}
