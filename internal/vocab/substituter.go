// Package vocab rewrites transcripts with household vocabulary before they are
// interpreted: the baby's name, brand names, words speech recognition keeps
// getting wrong.
package vocab

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultIterationLimit = 30

// ErrUnsettled is returned when the substitutions keep changing the text
// after the iteration limit, which means two of them undo each other.
var ErrUnsettled = errors.New("vocabulary substitutions did not settle")

// Substitution is one configured rewrite. Literal matches are case-insensitive
// and bounded by word edges; Regex patterns are used as written.
type Substitution struct {
	Match         string `yaml:"match"`
	Replace       string `yaml:"replace"`
	Regex         bool   `yaml:"regex"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	FirstOnly     bool   `yaml:"first_only"`
}

type rewrite struct {
	re        *regexp.Regexp
	replace   string
	firstOnly bool
}

func (r rewrite) apply(input string) string {
	if !r.firstOnly {
		return r.re.ReplaceAllString(input, r.replace)
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input
	}
	replaced := r.re.ExpandString(nil, r.replace, input, loc)
	return input[:loc[0]] + string(replaced) + input[loc[1]:]
}

// Substituter applies substitutions in order, repeating the pass until the
// text stops changing.
type Substituter struct {
	rewrites       []rewrite
	iterationLimit int
}

// New compiles substitutions. A zero iterationLimit selects the default.
func New(subs []Substitution, iterationLimit int) (*Substituter, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	s := &Substituter{iterationLimit: iterationLimit, rewrites: make([]rewrite, 0, len(subs))}

	var errs []error
	for i, sub := range subs {
		rw, err := compile(sub)
		if err != nil {
			errs = append(errs, fmt.Errorf("substitution %d (%q): %w", i+1, sub.Match, err))
			continue
		}
		s.rewrites = append(s.rewrites, rw)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func compile(sub Substitution) (rewrite, error) {
	match := strings.TrimSpace(sub.Match)
	if match == "" {
		return rewrite{}, errors.New("match cannot be empty")
	}

	pattern := match
	replace := sub.Replace
	if !sub.Regex {
		pattern = `\b` + regexp.QuoteMeta(match) + `\b`
		replace = strings.ReplaceAll(replace, "$", "$$")
	}
	if !sub.CaseSensitive {
		pattern = "(?i)" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return rewrite{}, fmt.Errorf("invalid pattern: %w", err)
	}
	return rewrite{re: re, replace: replace, firstOnly: sub.FirstOnly}, nil
}

// Apply rewrites text. On ErrUnsettled the last pass's output is returned
// alongside the error.
func (s *Substituter) Apply(text string) (string, error) {
	if len(s.rewrites) == 0 {
		return text, nil
	}

	current := text
	for range s.iterationLimit {
		next := current
		for _, rw := range s.rewrites {
			next = rw.apply(next)
		}
		if next == current {
			return current, nil
		}
		current = next
	}
	return current, fmt.Errorf("%w after %d passes", ErrUnsettled, s.iterationLimit)
}

// Len reports how many substitutions are active.
func (s *Substituter) Len() int {
	return len(s.rewrites)
}

type vocabularyFile struct {
	Substitutions []Substitution `yaml:"substitutions"`
}

// LoadFile reads substitutions from a YAML file with a top-level
// substitutions list. A missing file yields no substitutions.
func LoadFile(path string) ([]Substitution, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open vocabulary file %q: %w", path, err)
	}
	defer f.Close()

	var file vocabularyFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse vocabulary file %q: %w", path, err)
	}
	return file.Substitutions, nil
}
