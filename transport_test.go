package irc

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func TestPinCheckMatches(t *testing.T) {
	cert := []byte("fake-der-certificate-bytes")
	sum := sha512.Sum512(cert)
	want := hex.EncodeToString(sum[:])

	if err := pinCheck([][]byte{cert}, want); err != nil {
		t.Fatalf("pinCheck: unexpected error %v", err)
	}
}

func TestPinCheckMismatch(t *testing.T) {
	cert := []byte("fake-der-certificate-bytes")
	err := pinCheck([][]byte{cert}, "0000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000")
	tErr, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("expected *TransportError, got %v (%T)", err, err)
	}
	if tErr.Kind != TransportTLSPinMismatch {
		t.Errorf("kind = %v, want TransportTLSPinMismatch", tErr.Kind)
	}
}

func TestPinCheckIgnoresNonLeafCerts(t *testing.T) {
	leaf := []byte("leaf-cert")
	intermediate := []byte("intermediate-cert")
	sum := sha512.Sum512(intermediate)
	want := hex.EncodeToString(sum[:])

	err := pinCheck([][]byte{leaf, intermediate}, want)
	tErr, ok := err.(*TransportError)
	if !ok || tErr.Kind != TransportTLSPinMismatch {
		t.Fatalf("expected a pin mismatch when only the intermediate cert matches, got %v", err)
	}
}

func TestProxyDialerUnsupportedType(t *testing.T) {
	_, err := proxyDialer(&ProxyParams{Type: "bogus", Address: "proxy.example.org:1080"})
	if err == nil {
		t.Fatal("expected an error for an unsupported proxy type")
	}
}

func TestProxyDialerSocks5Constructs(t *testing.T) {
	d, err := proxyDialer(&ProxyParams{Type: "socks5", Address: "proxy.example.org:1080", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected a non-nil dialer")
	}
}

func TestProxyDialerHTTPConstructs(t *testing.T) {
	d, err := proxyDialer(&ProxyParams{Type: "http", Address: "proxy.example.org:8080", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected a non-nil dialer")
	}
}
