package irc

// Collapse normalises a glob pattern: runs of consecutive '*' and '?' are
// merged so that all '?' in the run come first, followed by at most one
// '*'. Collapse is idempotent.
func Collapse(pattern string) string {
	var out []byte
	i := 0
	for i < len(pattern) {
		seenStar := false
		for i < len(pattern) && (pattern[i] == '*' || pattern[i] == '?') {
			if pattern[i] == '?' {
				out = append(out, '?')
			} else {
				seenStar = true
			}
			i++
		}
		if seenStar {
			out = append(out, '*')
		}
		if i < len(pattern) {
			out = append(out, pattern[i])
			i++
		}
	}
	return string(out)
}

// globMatch is a classic two-pointer backtracking matcher with a single
// checkpoint per '*'.
func globMatch(pattern, s string) bool {
	i, j := 0, 0
	iBackup, jBackup := -1, -1

	for j < len(s) {
		var p byte
		hasP := i < len(pattern)
		if hasP {
			p = pattern[i]
		}

		switch {
		case hasP && p == '*':
			i++
			iBackup = i
			jBackup = j
		case hasP && (p == '?' || p == s[j]):
			i++
			j++
		default:
			if iBackup == -1 {
				return false
			}
			jBackup++
			j = jBackup
			i = iBackup
		}
	}

	for i < len(pattern) && pattern[i] == '*' {
		i++
	}
	return i == len(pattern)
}

// Glob is a compiled (collapsed) hostmask glob pattern.
type Glob struct {
	pattern string
}

// Compile collapses pattern and returns a matcher for it.
func Compile(pattern string) *Glob {
	return &Glob{pattern: Collapse(pattern)}
}

// Match reports whether s matches the compiled pattern.
func (g *Glob) Match(s string) bool {
	return globMatch(g.pattern, s)
}
