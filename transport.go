package irc

import (
	"crypto/sha512"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"
)

// socks4Dialer adapts h12.io/socks's dial-function style to the
// golang.org/x/net/proxy.Dialer interface, mirroring the teacher's
// irc.go socks4Dialer.
type socks4Dialer struct {
	dialFunc func(string, string) (net.Conn, error)
}

func (d *socks4Dialer) Dial(network, addr string) (net.Conn, error) {
	return d.dialFunc(network, addr)
}

// Transport is the wire-level connection a session reads lines from and
// writes lines to. DialTransport returns a plain TCP connection or a
// *tls.Conn over one; tests substitute one end of an in-memory net.Pipe.
type Transport interface {
	net.Conn
}

// dialTimeout bounds how long happy-eyeballs connection attempts may take
// before TransportConnectTimeout is raised. Proxy dials are not bounded by it.
const dialTimeout = 30 * time.Second

// DialTransport resolves params.Host, races TCP connection attempts across
// every returned address (happy eyeballs, RFC 8305 in spirit: IPv6 and IPv4
// candidates attempted concurrently, first successful connection wins), then
// layers TLS on top per params.TLS. A configured proxy bypasses the
// happy-eyeballs race entirely, since the proxy itself resolves the target.
func DialTransport(params *ConnectionParams) (Transport, error) {
	var dialer proxy.Dialer
	if params.Proxy != nil {
		d, err := proxyDialer(params.Proxy)
		if err != nil {
			return nil, &TransportError{Kind: TransportConnectFailed, Err: err}
		}
		dialer = d
	}

	var conn net.Conn
	var err error
	if dialer != nil {
		conn, err = dialer.Dial("tcp", net.JoinHostPort(params.Host, fmt.Sprintf("%d", params.Port)))
	} else {
		conn, err = dialHappyEyeballs(params.Host, params.Port, params.Bindhost)
	}
	if err != nil {
		return nil, err
	}

	if params.TLS == TLSNone {
		return conn, nil
	}

	tlsConn, err := wrapTLS(conn, params)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// proxyDialer builds the golang.org/x/net/proxy.Dialer for one of the three
// supported proxy types, grounded on the teacher's Connect proxy switch.
func proxyDialer(p *ProxyParams) (proxy.Dialer, error) {
	switch p.Type {
	case "socks4":
		dial := socks.Dial(fmt.Sprintf("socks4://%s:%s@%s", p.Username, p.Password, p.Address))
		return &socks4Dialer{dialFunc: dial}, nil
	case "socks5":
		auth := &proxy.Auth{User: p.Username, Password: p.Password}
		return proxy.SOCKS5("tcp", p.Address, auth, proxy.Direct)
	case "http":
		proxyURL, err := url.Parse(fmt.Sprintf("http://%s:%s@%s", p.Username, p.Password, p.Address))
		if err != nil {
			return nil, err
		}
		return proxy.FromURL(proxyURL, proxy.Direct)
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", p.Type)
	}
}

// dialHappyEyeballs resolves host and races a connection attempt against
// each returned address, staggered slightly so an IPv6 candidate (if any,
// listed first by net.LookupHost's typical ordering) gets a head start
// before IPv4 fallbacks pile on.
func dialHappyEyeballs(host string, port int, bindhost string) (net.Conn, error) {
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, &TransportError{Kind: TransportConnectFailed, Err: err}
	}
	if len(addrs) == 0 {
		addrs = []string{host}
	}

	var localAddr net.Addr
	if bindhost != "" {
		localAddr = &net.TCPAddr{IP: net.ParseIP(bindhost)}
	}

	type dialOutcome struct {
		conn net.Conn
		err  error
	}
	results := make(chan dialOutcome, len(addrs))
	const stagger = 250 * time.Millisecond

	for i, addr := range addrs {
		i, addr := i, addr
		go func() {
			if i > 0 {
				time.Sleep(time.Duration(i) * stagger)
			}
			d := &net.Dialer{LocalAddr: localAddr, Timeout: dialTimeout}
			conn, err := d.Dial("tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
			results <- dialOutcome{conn, err}
		}()
	}

	var lastErr error
	for range addrs {
		select {
		case out := <-results:
			if out.err == nil {
				return out.conn, nil
			}
			lastErr = out.err
		case <-time.After(dialTimeout):
			return nil, &TransportError{Kind: TransportConnectTimeout}
		}
	}
	return nil, &TransportError{Kind: TransportConnectFailed, Err: lastErr}
}

// wrapTLS layers crypto/tls over conn per the three TLS modes spec.md §4.1
// distinguishes: chain verification via the system root pool, no
// verification at all, and pinning to a specific certificate's SHA-512
// fingerprint regardless of chain validity.
func wrapTLS(conn net.Conn, params *ConnectionParams) (net.Conn, error) {
	cfg := &tls.Config{ServerName: params.Host}

	switch params.TLS {
	case TLSVerifyChain:
		// default verification, nothing to override.
	case TLSNoVerify:
		cfg.InsecureSkipVerify = true
	case TLSVerifySHA512Pinned:
		cfg.InsecureSkipVerify = true
		want := params.TLSPinnedSHA512
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*tls.Certificate) error {
			return pinCheck(rawCerts, want)
		}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, &TransportError{Kind: TransportConnectFailed, Err: err}
	}
	return tlsConn, nil
}

// pinCheck reports whether the peer's own (leaf) certificate, the first of
// rawCerts, matches the expected lowercase hex SHA-512 digest. Other
// certificates in the offered chain are not considered.
func pinCheck(rawCerts [][]byte, wantHex string) error {
	if len(rawCerts) > 0 {
		sum := sha512.Sum512(rawCerts[0])
		if hex.EncodeToString(sum[:]) == wantHex {
			return nil
		}
	}
	return &TransportError{Kind: TransportTLSPinMismatch}
}
