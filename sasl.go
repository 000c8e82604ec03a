package irc

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// SASLResult is the outcome sasl_auth hands back to the CAP state machine.
type SASLResult int

const (
	SASLResultNone SASLResult = iota
	SASLResultSuccess
	SASLResultFailure
	SASLResultAlready
)

func (r SASLResult) String() string {
	switch r {
	case SASLResultSuccess:
		return "SUCCESS"
	case SASLResultFailure:
		return "FAILURE"
	case SASLResultAlready:
		return "ALREADY"
	default:
		return "NONE"
	}
}

// saslIO is the minimal surface the SASL engine needs from a session: send
// one line at a given priority, and block for a line matching m or timeout.
// session.go's *Session satisfies this.
type saslIO interface {
	sendLine(priority SendPriority, line *Line)
	waitForTimeout(timeout time.Duration, m Matcher) (*Line, error)
}

// saslMechanismOrder is the priority order USERPASS tries SCRAM mechanisms
// in before falling back to PLAIN.
var saslMechanismOrder = []string{"SCRAM-SHA-512", "SCRAM-SHA-256", "SCRAM-SHA-1", "PLAIN"}

var saslMechanismOnly = []string{"SCRAM-SHA-512", "SCRAM-SHA-256", "SCRAM-SHA-1"}

func scramAlgorithmForMechanism(mech string) (SCRAMAlgorithm, bool) {
	switch mech {
	case "SCRAM-SHA-1":
		return SCRAMSHA1, true
	case "SCRAM-SHA-256":
		return SCRAMSHA256, true
	case "SCRAM-SHA-512":
		return SCRAMSHA512, true
	default:
		return 0, false
	}
}

// candidateMechanisms builds the client's ordered mechanism candidate list
// from SASLParams, before any intersection with the server's advertised set.
func candidateMechanisms(p *SASLParams) []string {
	switch p.Mechanism {
	case "EXTERNAL":
		return []string{"EXTERNAL"}
	case "SCRAM":
		out := make([]string, len(saslMechanismOnly))
		copy(out, saslMechanismOnly)
		return out
	default: // "USERPASS"
		out := make([]string, len(saslMechanismOrder))
		copy(out, saslMechanismOrder)
		return out
	}
}

// intersectPreservingOrder keeps items of candidates that also appear in
// advertised, preserving the candidate priority order.
func intersectPreservingOrder(candidates, advertised []string) []string {
	set := make(map[string]bool, len(advertised))
	for _, a := range advertised {
		set[a] = true
	}
	var out []string
	for _, c := range candidates {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

// chunkAuthenticate splits payload into 400-byte base64 chunks per the
// AUTHENTICATE wire format, appending a trailing "+" marker chunk if the
// final chunk is exactly 400 bytes (signalling "no more data" per RFC).
func chunkAuthenticate(payload []byte) []string {
	b64 := base64.StdEncoding.EncodeToString(payload)
	if b64 == "" {
		return []string{"+"}
	}
	var chunks []string
	for len(b64) > 0 {
		n := AuthenticateChunkSize
		if n > len(b64) {
			n = len(b64)
		}
		chunks = append(chunks, b64[:n])
		b64 = b64[n:]
	}
	if len(chunks[len(chunks)-1]) == AuthenticateChunkSize {
		chunks = append(chunks, "+")
	}
	return chunks
}

// saslAuthenticateResponse matches the family of replies that can follow an
// AUTHENTICATE <MECH> line: a continuation ("AUTHENTICATE *" or "AUTHENTICATE
// +"), or one of the early numerics.
var saslAuthenticateResponse = Any{
	Response("AUTHENTICATE"),
	Numerics("904", "907", "908", "906"),
}

// saslOutcomeResponse matches the numerics that conclude one mechanism
// attempt: 903 SUCCESS, 904 FAIL.
var saslOutcomeResponse = Numerics("903", "904")

// saslAuth drives SASL authentication to completion against the mechanisms
// the server advertised (advertisedMechs is nil under CAP v3.1, where no
// sasl= value was given and ERR_SASLMECHS/908 refines the set reactively).
// It returns the final result and whether an attempt was actually started.
func saslAuth(io saslIO, params *SASLParams, advertisedMechs []string) (SASLResult, bool) {
	candidates := candidateMechanisms(params)
	if advertisedMechs != nil {
		candidates = intersectPreservingOrder(candidates, advertisedMechs)
	}
	if len(candidates) == 0 {
		return SASLResultFailure, false
	}

	started := false
	for len(candidates) > 0 {
		mech := candidates[0]
		result, refined := attemptMechanism(io, params, mech)
		started = true
		switch result {
		case SASLResultSuccess, SASLResultAlready:
			return result, started
		}
		if refined != nil {
			candidates = intersectPreservingOrder(candidates[1:], refined)
		} else {
			candidates = candidates[1:]
		}
	}
	return SASLResultFailure, started
}

// attemptMechanism runs one AUTHENTICATE <MECH> round. refined is non-nil
// when the server responded 908 (ERR_SASLMECHS) with a fresh mechanism
// list, in which case the caller should re-intersect before trying again.
func attemptMechanism(io saslIO, params *SASLParams, mech string) (result SASLResult, refined []string) {
	io.sendLine(PriorityHigh, Format("AUTHENTICATE", mech))

	line, err := io.waitForTimeout(WaitTimeout, saslAuthenticateResponse)
	if err != nil {
		return SASLResultFailure, nil
	}

	switch line.Command {
	case "907":
		return SASLResultAlready, nil
	case "908":
		mechs := strings.Split(line.Param(1), ",")
		io.waitForTimeout(WaitTimeout, Numerics("904"))
		return SASLResultFailure, mechs
	case "904", "906":
		return SASLResultFailure, nil
	}

	// line.Command == "AUTHENTICATE"; PLAIN/EXTERNAL send one payload and
	// fall through to the shared outcome wait below. SCRAM is a longer
	// exchange that drives its own AUTHENTICATE round trips internally
	// and reports whether it reached a state where an outcome numeric can
	// still be expected.
	var ok bool
	if algo, isSCRAM := scramAlgorithmForMechanism(mech); isSCRAM {
		ok = runSCRAM(io, algo, params)
	} else {
		payload := simpleAuthPayload(mech, params)
		if payload == nil {
			io.sendLine(PriorityHigh, Format("AUTHENTICATE", "*"))
			return SASLResultFailure, nil
		}
		for _, chunk := range payload {
			io.sendLine(PriorityHigh, Format("AUTHENTICATE", chunk))
		}
		ok = true
	}
	if !ok {
		return SASLResultFailure, nil
	}

	outcome, err := io.waitForTimeout(WaitTimeout, saslOutcomeResponse)
	if err != nil {
		return SASLResultFailure, nil
	}
	if outcome.Command == "903" {
		return SASLResultSuccess, nil
	}
	return SASLResultFailure, nil
}

// simpleAuthPayload produces the AUTHENTICATE chunks for the single-message
// mechanisms (PLAIN, EXTERNAL); nil means the mechanism isn't one of these.
func simpleAuthPayload(mech string, params *SASLParams) []string {
	switch mech {
	case "EXTERNAL":
		return []string{"+"}
	case "PLAIN":
		raw := fmt.Sprintf("%s\x00%s\x00%s", params.Username, params.Username, params.Password)
		return chunkAuthenticate([]byte(raw))
	default:
		return nil
	}
}

// runSCRAM drives the SCRAM sub-protocol (§4.3.1): client-first, then a
// server-first round trip, then client-final, then the server-final
// verification message. It reports ok=false on any protocol-level failure
// (malformed data, nonce mismatch, signature mismatch); on ok=true the
// caller still must wait for the concluding 903/904 numeric, since a server
// may reject a cryptographically valid exchange for out-of-band reasons.
func runSCRAM(io saslIO, algo SCRAMAlgorithm, params *SASLParams) bool {
	ctx := NewSCRAMContext(algo, params.Username, params.Password)

	clientFirst := ctx.ClientFirst()
	for _, chunk := range chunkAuthenticate([]byte(clientFirst)) {
		io.sendLine(PriorityHigh, Format("AUTHENTICATE", chunk))
	}

	line, err := io.waitForTimeout(WaitTimeout, Response("AUTHENTICATE"))
	if err != nil {
		return false
	}
	serverFirst, decodeErr := decodeAuthenticatePayload(line)
	if decodeErr != nil {
		return false
	}

	clientFinal := ctx.ServerFirst(serverFirst)
	if ctx.State == SCRAMStateFailure {
		return false
	}
	for _, chunk := range chunkAuthenticate([]byte(clientFinal)) {
		io.sendLine(PriorityHigh, Format("AUTHENTICATE", chunk))
	}

	final, err := io.waitForTimeout(WaitTimeout, Response("AUTHENTICATE"))
	if err != nil {
		return false
	}
	serverFinal, decodeErr := decodeAuthenticatePayload(final)
	if decodeErr != nil {
		return false
	}
	return ctx.ServerFinal(serverFinal)
}

func decodeAuthenticatePayload(line *Line) (string, error) {
	raw := line.Param(0)
	if raw == "+" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
