package rename

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// token is one piece of a compiled pattern: literal text, a number field
// of the given width, or a filter capture reference
type token struct {
	literal string
	width   int
	group   int
}

// compile splits a pattern into tokens. A run of N '#' is the sequence
// number zero-padded to N digits, $1..$9 insert a filter capture, and a
// backslash makes the next '#', '$' or '\' literal.
func compile(pattern string) ([]token, error) {
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}

	var tokens []token
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, token{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern) && strings.ContainsRune(`#$\`, rune(pattern[i+1])):
			lit.WriteByte(pattern[i+1])
			i++
		case c == '#':
			flush()
			width := 1
			for i+1 < len(pattern) && pattern[i+1] == '#' {
				width++
				i++
			}
			tokens = append(tokens, token{width: width})
		case c == '$' && i+1 < len(pattern) && pattern[i+1] >= '1' && pattern[i+1] <= '9':
			flush()
			tokens = append(tokens, token{group: int(pattern[i+1] - '0')})
			i++
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return tokens, nil
}

// maxGroup is the highest capture a pattern refers to
func maxGroup(tokens []token) int {
	n := 0
	for _, t := range tokens {
		if t.group > n {
			n = t.group
		}
	}
	return n
}

// render produces the name for sequence number n and filter captures
// groups (groups[0] is the whole match)
func render(tokens []token, n int, groups []string) string {
	var b strings.Builder
	for _, t := range tokens {
		switch {
		case t.width > 0:
			num := strconv.Itoa(n)
			if n < 0 {
				num = strconv.Itoa(-n)
				b.WriteByte('-')
			}
			if pad := t.width - len(num); pad > 0 {
				b.WriteString(strings.Repeat("0", pad))
			}
			b.WriteString(num)
		case t.group > 0:
			if t.group < len(groups) {
				b.WriteString(groups[t.group])
			}
		default:
			b.WriteString(t.literal)
		}
	}
	return b.String()
}

// compileFilter compiles the optional filter and checks it defines every
// capture the pattern uses
func compileFilter(filter string, tokens []token) (*regexp.Regexp, error) {
	need := maxGroup(tokens)
	if filter == "" {
		if need > 0 {
			return nil, fmt.Errorf("pattern uses $%d but no filter is set", need)
		}
		return nil, nil
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("bad filter: %w", err)
	}
	if need > re.NumSubexp() {
		return nil, fmt.Errorf("pattern uses $%d but the filter has %d groups", need, re.NumSubexp())
	}
	return re, nil
}
