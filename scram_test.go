package irc

import "testing"

// RFC 5802 §5 SCRAM-SHA-1 example exchange.
func TestSCRAMSHA1RFC5802Vector(t *testing.T) {
	ctx := NewSCRAMContext(SCRAMSHA1, "user", "pencil")
	ctx.clientNonce = "fyko+d2lbbFgONRv9qkxdawL"
	ctx.clientFirst = "n=user,r=fyko+d2lbbFgONRv9qkxdawL"

	clientFinal := ctx.ServerFirst("r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,s=QSXCR+Q6sek8bf92,i=4096")
	if ctx.State != SCRAMStateClientFinal {
		t.Fatalf("after ServerFirst, state = %v, want CLIENT_FINAL", ctx.State)
	}
	want := "c=biws,r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,p=v0X8v3Bz2T0CJGbJQyF0X+HI4Ts="
	if clientFinal != want {
		t.Fatalf("client-final-message = %q, want %q", clientFinal, want)
	}

	ok := ctx.ServerFinal("v=rmF9pqV8S7suAoZWja4dJRkFsKQ=")
	if !ok || ctx.State != SCRAMStateSuccess {
		t.Fatalf("ServerFinal with canonical signature: ok=%v state=%v, want true/SUCCESS", ok, ctx.State)
	}
}

func TestSCRAMServerSignatureBitFlipFails(t *testing.T) {
	ctx := NewSCRAMContext(SCRAMSHA1, "user", "pencil")
	ctx.clientNonce = "fyko+d2lbbFgONRv9qkxdawL"
	ctx.clientFirst = "n=user,r=fyko+d2lbbFgONRv9qkxdawL"
	ctx.ServerFirst("r=fyko+d2lbbFgONRv9qkxdawL3rfcNHYJY1ZVvWVs7j,s=QSXCR+Q6sek8bf92,i=4096")

	// Canonical verifier with one signature bit flipped in the final base64
	// char (Q -> U). The low two bits of that char are padding, so Q -> R
	// would decode to the same bytes.
	flipped := "v=rmF9pqV8S7suAoZWja4dJRkFsKU="
	ok := ctx.ServerFinal(flipped)
	if ok || ctx.State != SCRAMStateVerifyFailure {
		t.Fatalf("ServerFinal with corrupted signature: ok=%v state=%v, want false/VERIFY_FAILURE", ok, ctx.State)
	}
}

func TestSCRAMNonceUnacceptable(t *testing.T) {
	ctx := NewSCRAMContext(SCRAMSHA256, "user", "pw")
	ctx.clientNonce = "abc"
	ctx.clientFirst = "n=user,r=abc"

	// Server's combined nonce does not extend the client nonce.
	ctx.ServerFirst("r=totally-different,s=c2FsdA==,i=4096")
	if ctx.State != SCRAMStateFailure || ctx.Error != "nonce-unacceptable" {
		t.Fatalf("expected nonce-unacceptable failure, got state=%v error=%q", ctx.State, ctx.Error)
	}
}

func TestSCRAMServerErrorClassification(t *testing.T) {
	ctx := NewSCRAMContext(SCRAMSHA256, "user", "pw")
	ctx.clientNonce = "abc"
	ctx.clientFirst = "n=user,r=abc"

	ctx.ServerFirst("e=unknown-user")
	if ctx.State != SCRAMStateFailure || ctx.Error != "unknown-user" {
		t.Fatalf("expected known error unknown-user, got state=%v error=%q", ctx.State, ctx.Error)
	}

	ctx2 := NewSCRAMContext(SCRAMSHA256, "user", "pw")
	ctx2.clientNonce = "abc"
	ctx2.clientFirst = "n=user,r=abc"
	ctx2.ServerFirst("e=something-the-server-made-up")
	if ctx2.State != SCRAMStateFailure || ctx2.Error != "other-error" {
		t.Fatalf("expected other-error classification, got state=%v error=%q", ctx2.State, ctx2.Error)
	}
}

func TestSCRAMClientFirstFormat(t *testing.T) {
	ctx := NewSCRAMContext(SCRAMSHA256, "us=er,name", "pw")
	msg := ctx.ClientFirst()
	if ctx.State != SCRAMStateClientFirst {
		t.Fatalf("state = %v, want CLIENT_FIRST", ctx.State)
	}
	want := "n,,n=us=3Der=2Cname,r=" + ctx.clientNonce
	if msg != want {
		t.Fatalf("ClientFirst() = %q, want %q", msg, want)
	}
}
