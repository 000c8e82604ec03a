// Copyright (c) 2024 Jerzy Dąbrowski
// Based on original work by Thomas Jager, 2009. All rights reserved.
//
// This project is a fork of the original go-ircevent library created by Thomas Jager.
// Redistribution and use in source and binary forms, with or without modification, are permitted provided
// that the following conditions are met:
//
//    - Redistributions of source code must retain the above copyright notice, this list of conditions,
//      and the following disclaimer.
//    - Redistributions in binary form must reproduce the above copyright notice, this list of conditions,
//      and the following disclaimer in the documentation and/or other materials provided with the distribution.
//    - Neither the name of the original authors nor the names of its contributors may be used to endorse
//      or promote products derived from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED "AS IS" WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT NOT
// LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE, AND NONINFRINGEMENT.
// IN NO EVENT SHALL THE COPYRIGHT HOLDERS OR CONTRIBUTORS BE LIABLE FOR ANY CLAIM, DAMAGES, OR OTHER LIABILITY,
// WHETHER IN AN ACTION OF CONTRACT, TORT, OR OTHERWISE, ARISING FROM, OUT OF, OR IN CONNECTION WITH THE SOFTWARE
// OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package irc

import (
	"strings"
)

// Hostmask is the "nick!user@host" form a line's source takes.
type Hostmask struct {
	Nickname string
	Username string
	Hostname string
}

// Line is one parsed IRC protocol line, tags included.
type Line struct {
	Tags     map[string]string
	Source   string
	Hostmask *Hostmask
	Command  string
	Params   []string
}

// Param returns the i'th parameter, or "" if it doesn't exist.
func (l *Line) Param(i int) string {
	if i < 0 || i >= len(l.Params) {
		return ""
	}
	return l.Params[i]
}

// Tag returns a message tag value and whether it was present.
func (l *Line) Tag(key string) (string, bool) {
	if l.Tags == nil {
		return "", false
	}
	v, ok := l.Tags[key]
	return v, ok
}

// unescapeTagValue undoes IRCv3.2 message-tag value escaping.
// http://ircv3.net/specs/core/message-tags-3.2.html
func unescapeTagValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			switch value[i+1] {
			case ':':
				b.WriteByte(';')
			case 's':
				b.WriteByte(' ')
			case '\\':
				b.WriteByte('\\')
			case 'r':
				b.WriteByte('\r')
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(value[i+1])
			}
			i++
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

// escapeTagValue applies IRCv3.2 message-tag value escaping.
func escapeTagValue(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case ';':
			b.WriteString("\\:")
		case ' ':
			b.WriteString("\\s")
		case '\\':
			b.WriteString("\\\\")
		case '\r':
			b.WriteString("\\r")
		case '\n':
			b.WriteString("\\n")
		default:
			b.WriteByte(value[i])
		}
	}
	return b.String()
}

// ErrMalformedLine is returned by ParseLine for input that is not a valid
// IRC protocol line.
var ErrMalformedLine = &ProtocolError{Kind: ProtocolParseFailed, Message: "malformed line"}

// ParseLine tokenises one raw wire line into a Line, first dropping a
// trailing LF and then a trailing CR if present.
func ParseLine(raw string) (*Line, error) {
	msg := strings.TrimSuffix(raw, "\n")
	msg = strings.TrimSuffix(msg, "\r")
	if len(msg) == 0 {
		return nil, ErrMalformedLine
	}

	line := &Line{}

	if msg[0] == '@' {
		i := strings.IndexByte(msg, ' ')
		if i == -1 {
			return nil, ErrMalformedLine
		}
		line.Tags = make(map[string]string)
		for _, piece := range strings.Split(msg[1:i], ";") {
			if piece == "" {
				continue
			}
			parts := strings.SplitN(piece, "=", 2)
			if len(parts) == 1 {
				line.Tags[parts[0]] = ""
			} else {
				line.Tags[parts[0]] = unescapeTagValue(parts[1])
			}
		}
		msg = msg[i+1:]
		if msg == "" {
			return nil, ErrMalformedLine
		}
	}

	if msg[0] == ':' {
		i := strings.IndexByte(msg, ' ')
		if i == -1 {
			return nil, ErrMalformedLine
		}
		line.Source = msg[1:i]
		msg = msg[i+1:]

		if ei, ai := strings.IndexByte(line.Source, '!'), strings.IndexByte(line.Source, '@'); ei > -1 && ai > -1 && ei < ai {
			line.Hostmask = &Hostmask{
				Nickname: line.Source[:ei],
				Username: line.Source[ei+1 : ai],
				Hostname: line.Source[ai+1:],
			}
		} else if ai := strings.IndexByte(line.Source, '@'); ai > -1 {
			line.Hostmask = &Hostmask{Nickname: line.Source[:ai], Hostname: line.Source[ai+1:]}
		}
	}

	if msg == "" {
		return nil, ErrMalformedLine
	}

	split := strings.SplitN(msg, " :", 2)
	args := strings.Split(split[0], " ")
	line.Command = strings.ToUpper(args[0])
	line.Params = args[1:]
	if len(split) > 1 {
		line.Params = append(line.Params, split[1])
	}
	return line, nil
}

// Format builds an untagged, sourceless Line from an (upper-cased) command
// and its params; String renders it to wire form.
func Format(command string, params ...string) *Line {
	return &Line{Command: strings.ToUpper(command), Params: params}
}

// WithTag attaches a message tag, returning the same Line for chaining.
func (l *Line) WithTag(key, value string) *Line {
	if l.Tags == nil {
		l.Tags = make(map[string]string)
	}
	l.Tags[key] = value
	return l
}

// String renders the line as it would be written to the wire, sans CRLF.
func (l *Line) String() string {
	var b strings.Builder
	if len(l.Tags) > 0 {
		b.WriteByte('@')
		first := true
		for k, v := range l.Tags {
			if !first {
				b.WriteByte(';')
			}
			first = false
			b.WriteString(k)
			if v != "" {
				b.WriteByte('=')
				b.WriteString(escapeTagValue(v))
			}
		}
		b.WriteByte(' ')
	}
	b.WriteString(l.Command)
	for i, p := range l.Params {
		b.WriteByte(' ')
		last := i == len(l.Params)-1
		if last && (p == "" || strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":")) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

// Tokenise tokenises a raw command string (as a user would type it, no
// tags/source) into params for send_raw.
func Tokenise(raw string) *Line {
	split := strings.SplitN(raw, " :", 2)
	args := strings.Split(split[0], " ")
	l := &Line{Command: strings.ToUpper(args[0]), Params: args[1:]}
	if len(split) > 1 {
		l.Params = append(l.Params, split[1])
	}
	return l
}
