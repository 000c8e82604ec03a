package irc

import "testing"

func TestParseHostString(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantTLS  TLSMode
		wantErr  bool
	}{
		{"irc.example.org", "irc.example.org", 6667, TLSNone, false},
		{"irc.example.org:6668", "irc.example.org", 6668, TLSNone, false},
		{"irc.example.org:+6697", "irc.example.org", 6697, TLSVerifyChain, false},
		{"irc.example.org:+", "irc.example.org", 6697, TLSVerifyChain, false},
		{"irc.example.org:~6697", "irc.example.org", 6697, TLSNoVerify, false},
		{"[::1]:+6697", "::1", 6697, TLSVerifyChain, false},
		{"[::1]:+", "::1", 6697, TLSVerifyChain, false},
		{"[2001:db8::1]", "2001:db8::1", 6667, TLSNone, false},
		{"", "", 0, TLSNone, true},
	}
	for _, tt := range tests {
		host, port, tls, err := ParseHostString(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHostString(%q): expected error, got none", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseHostString(%q): unexpected error: %v", tt.in, err)
		}
		if host != tt.wantHost || port != tt.wantPort || tls != tt.wantTLS {
			t.Errorf("ParseHostString(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tt.in, host, port, tls, tt.wantHost, tt.wantPort, tt.wantTLS)
		}
	}
}

func TestNewConnectionParamsDefaults(t *testing.T) {
	p := NewConnectionParams("alice", "irc.example.org", 6667)
	if p.ReconnectSeconds != 10 {
		t.Errorf("ReconnectSeconds = %d, want 10", p.ReconnectSeconds)
	}
	want := []string{"alice_", "alice__", "alice___"}
	if len(p.AltNicknames) != len(want) {
		t.Fatalf("AltNicknames = %v, want %v", p.AltNicknames, want)
	}
	for i := range want {
		if p.AltNicknames[i] != want[i] {
			t.Errorf("AltNicknames[%d] = %q, want %q", i, p.AltNicknames[i], want[i])
		}
	}
}
