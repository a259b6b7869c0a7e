// Copyright 2024-2026 Aiku AI

// Package pattern compiles and evaluates the include/exclude regex pairs used
// by moderation policies. The regex flavor is case-insensitive, multi-line,
// dot-matches-newline. A pattern consisting solely of a reserved `:name:`
// token dispatches to a named built-in predicate instead of a regex.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// matcher is either a compiled regex or a built-in predicate.
type matcher interface {
	match(text string) bool
}

type regexMatcher struct {
	re *regexp.Regexp
}

func (m regexMatcher) match(text string) bool { return m.re.MatchString(text) }

type builtinMatcher func(text string) bool

func (f builtinMatcher) match(text string) bool { return f(text) }

type neverMatcher struct{}

func (neverMatcher) match(string) bool { return false }

// builtins maps reserved predicate names to their implementations.
var builtins = map[string]func(text string) bool{
	// luhn flags any digit run of plausible account-number length whose
	// check digit validates, ignoring spaces and dashes.
	"luhn": containsLuhnSequence,
	// empty matches bodies that are empty or whitespace only.
	"empty": func(text string) bool { return strings.TrimSpace(text) == "" },
}

var builtinForm = regexp.MustCompile(`^:([a-z_]+):$`)

// Compiled is a ready-to-evaluate include/exclude pair.
type Compiled struct {
	include matcher
	exclude matcher
}

// Compile validates and compiles an include/exclude pair. An empty exclude
// never matches. Compile errors identify which half failed so the admin
// surface can report them before anything is stored.
func Compile(include, exclude string) (*Compiled, error) {
	inc, err := compileOne(include)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}
	var exc matcher = neverMatcher{}
	if exclude != "" {
		exc, err = compileOne(exclude)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern: %w", err)
		}
	}
	return &Compiled{include: inc, exclude: exc}, nil
}

func compileOne(pat string) (matcher, error) {
	if m := builtinForm.FindStringSubmatch(pat); m != nil {
		fn, ok := builtins[m[1]]
		if !ok {
			return nil, fmt.Errorf("unknown built-in predicate %q", pat)
		}
		return builtinMatcher(fn), nil
	}
	re, err := regexp.Compile("(?ims)" + pat)
	if err != nil {
		return nil, err
	}
	return regexMatcher{re: re}, nil
}

// Matches reports whether text matches include and does not match exclude.
func (c *Compiled) Matches(text string) bool {
	return c.include.match(text) && !c.exclude.match(text)
}

// Matches compiles and evaluates in one step. Invalid patterns never match;
// the admin surface rejects them before storage so this path only sees
// already-validated input.
func Matches(include, exclude, text string) bool {
	c, err := Compile(include, exclude)
	if err != nil {
		return false
	}
	return c.Matches(text)
}

// minLuhnDigits is the shortest digit run the luhn built-in considers.
const minLuhnDigits = 13

func containsLuhnSequence(text string) bool {
	var run []int
	flush := func() bool {
		defer func() { run = run[:0] }()
		return len(run) >= minLuhnDigits && luhnValid(run)
	}
	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			run = append(run, int(r-'0'))
		case r == ' ' || r == '-':
			// separators inside a card number are common, keep the run going
		default:
			if flush() {
				return true
			}
		}
	}
	return flush()
}

func luhnValid(digits []int) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
