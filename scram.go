package irc

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMAlgorithm is one of the SCRAM-SHA hash functions this engine
// supports (IANA hash-function textual names, RFC 5802 §4).
type SCRAMAlgorithm int

const (
	SCRAMMD5 SCRAMAlgorithm = iota
	SCRAMSHA1
	SCRAMSHA224
	SCRAMSHA256
	SCRAMSHA384
	SCRAMSHA512
)

func (a SCRAMAlgorithm) newHash() func() hash.Hash {
	switch a {
	case SCRAMMD5:
		return md5.New
	case SCRAMSHA1:
		return sha1.New
	case SCRAMSHA224:
		return sha256.New224
	case SCRAMSHA256:
		return sha256.New
	case SCRAMSHA384:
		return sha512.New384
	case SCRAMSHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// scramErrors is the known SCRAM error-code list (RFC 5802 §7) plus the
// client-side "nonce-unacceptable"; any other code classifies as
// "other-error".
var scramErrors = map[string]bool{
	"nonce-unacceptable":                  true,
	"invalid-encoding":                    true,
	"extensions-not-supported":            true,
	"invalid-proof":                       true,
	"channel-bindings-dont-match":         true,
	"server-does-support-channel-binding": true,
	"channel-binding-not-supported":       true,
	"unsupported-channel-binding-type":    true,
	"unknown-user":                        true,
	"invalid-username-encoding":           true,
	"no-resources":                        true,
}

// SCRAMState is the client-side SCRAM handshake state.
type SCRAMState int

const (
	SCRAMStateNone SCRAMState = iota
	SCRAMStateClientFirst
	SCRAMStateClientFinal
	SCRAMStateSuccess
	SCRAMStateFailure
	SCRAMStateVerifyFailure
)

func scramEscape(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// SCRAMContext is pure SCRAM-SHA client state: it produces client messages
// and consumes server messages, doing no I/O itself.
type SCRAMContext struct {
	algo     SCRAMAlgorithm
	username string
	password string

	State    SCRAMState
	Error    string // normalized against scramErrors, or "other-error"
	RawError string // the server's literal e= value

	clientFirst string
	clientNonce string

	saltedPassword []byte
	authMessage    string
}

// NewSCRAMContext builds a client context for the given algorithm and
// credentials (both UTF-8).
func NewSCRAMContext(algo SCRAMAlgorithm, username, password string) *SCRAMContext {
	return &SCRAMContext{algo: algo, username: username, password: password, State: SCRAMStateNone}
}

func (c *SCRAMContext) hmac(key, msg []byte) []byte {
	h := hmac.New(c.algo.newHash(), key)
	h.Write(msg)
	return h.Sum(nil)
}

func (c *SCRAMContext) hash(msg []byte) []byte {
	h := c.algo.newHash()()
	h.Write(msg)
	return h.Sum(nil)
}

func (c *SCRAMContext) fail(errCode string) {
	c.RawError = errCode
	if scramErrors[errCode] {
		c.Error = errCode
	} else {
		c.Error = "other-error"
	}
	c.State = SCRAMStateFailure
}

func getPieces(data string) map[string]string {
	pieces := make(map[string]string)
	for _, piece := range strings.Split(data, ",") {
		kv := strings.SplitN(piece, "=", 2)
		if len(kv) == 2 {
			pieces[kv[0]] = kv[1]
		}
	}
	return pieces
}

func (c *SCRAMContext) assertError(pieces map[string]string) bool {
	if e, ok := pieces["e"]; ok {
		c.fail(e)
		return true
	}
	return false
}

// ClientFirst produces the "client-first-message" (GS2 header + bare
// message) and transitions to CLIENT_FIRST.
func (c *SCRAMContext) ClientFirst() string {
	c.State = SCRAMStateClientFirst

	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)
	c.clientNonce = base64.StdEncoding.EncodeToString(nonce)

	c.clientFirst = fmt.Sprintf("n=%s,r=%s", scramEscape(c.username), c.clientNonce)
	return "n,," + c.clientFirst
}

// ServerFirst consumes the server-first-message and produces the
// client-final-message, or "" on failure (check State/Error).
func (c *SCRAMContext) ServerFirst(data string) string {
	c.State = SCRAMStateClientFinal

	pieces := getPieces(data)
	if c.assertError(pieces) {
		return ""
	}

	nonce, ok := pieces["r"]
	if !ok || !strings.HasPrefix(nonce, c.clientNonce) || nonce == c.clientNonce {
		c.fail("nonce-unacceptable")
		return ""
	}

	saltB64, ok := pieces["s"]
	if !ok {
		c.fail("invalid-encoding")
		return ""
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		c.fail("invalid-encoding")
		return ""
	}
	iterStr, ok := pieces["i"]
	if !ok {
		c.fail("invalid-encoding")
		return ""
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		c.fail("invalid-encoding")
		return ""
	}

	dklen := c.algo.newHash()().Size()
	saltedPassword := pbkdf2.Key([]byte(c.password), salt, iterations, dklen, c.algo.newHash())
	c.saltedPassword = saltedPassword

	clientKey := c.hmac(saltedPassword, []byte("Client Key"))
	storedKey := c.hash(clientKey)

	channel := base64.StdEncoding.EncodeToString([]byte("n,,"))
	authNoproof := fmt.Sprintf("c=%s,r=%s", channel, nonce)
	authMessage := c.clientFirst + "," + data + "," + authNoproof
	c.authMessage = authMessage

	clientSignature := c.hmac(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	return fmt.Sprintf("%s,p=%s", authNoproof, base64.StdEncoding.EncodeToString(clientProof))
}

// ServerFinal consumes the server-final-message and verifies the server
// signature, transitioning to SUCCESS or VERIFY_FAILURE.
func (c *SCRAMContext) ServerFinal(data string) bool {
	pieces := getPieces(data)
	if c.assertError(pieces) {
		return false
	}

	verifier, err := base64.StdEncoding.DecodeString(pieces["v"])
	if err != nil {
		c.fail("invalid-encoding")
		return false
	}

	serverKey := c.hmac(c.saltedPassword, []byte("Server Key"))
	serverSignature := c.hmac(serverKey, []byte(c.authMessage))

	if subtle.ConstantTimeCompare(serverSignature, verifier) == 1 {
		c.State = SCRAMStateSuccess
		return true
	}
	c.State = SCRAMStateVerifyFailure
	return false
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
