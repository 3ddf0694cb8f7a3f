package validator

import (
	"strings"
	"unicode"
)

// TextJudgment turns a free-text answer into a yes/no verdict.
type TextJudgment interface {
	Judge(text string) bool
}

var (
	DefaultAffirmative = []string{
		"sí", "si", "yes", "true", "correct", "correcto", "correcta",
		"es una", "tomografía", "tomografia", "ct", "cerebral", "brain scan",
	}
	DefaultNegative = []string{
		"no", "not", "false", "incorrect", "incorrecto", "incorrecta",
		"no es", "no es una",
	}
)

// KeywordJudgment is the whole-word variant of SubstringJudgment: keyword
// phrases only match complete words of the answer, so "no" does not match
// inside "normal".
type KeywordJudgment struct {
	affirmative [][]string
	negative    [][]string
}

func NewKeywordJudgment(affirmative, negative []string) *KeywordJudgment {
	return &KeywordJudgment{
		affirmative: tokenizeAll(affirmative),
		negative:    tokenizeAll(negative),
	}
}

func (k *KeywordJudgment) Judge(text string) bool {
	words := tokenize(text)
	if len(words) == 0 {
		return false
	}
	for _, phrase := range k.negative {
		if containsPhrase(words, phrase) {
			return false
		}
	}
	for _, phrase := range k.affirmative {
		if containsPhrase(words, phrase) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func tokenizeAll(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		if words := tokenize(p); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j := range phrase {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// SubstringJudgment matches keywords anywhere in the lower-cased answer. Any
// negative match makes the verdict false; otherwise at least one affirmative
// match is required. "no" also matches inside "normal", so borderline answers
// are rejected.
type SubstringJudgment struct {
	affirmative []string
	negative    []string
}

func NewSubstringJudgment(affirmative, negative []string) *SubstringJudgment {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return &SubstringJudgment{affirmative: lower(affirmative), negative: lower(negative)}
}

// DefaultJudgment is the substring judgment over the default keyword sets.
func DefaultJudgment() *SubstringJudgment {
	return NewSubstringJudgment(DefaultAffirmative, DefaultNegative)
}

func (s *SubstringJudgment) Judge(text string) bool {
	text = strings.ToLower(text)
	for _, kw := range s.negative {
		if strings.Contains(text, kw) {
			return false
		}
	}
	for _, kw := range s.affirmative {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
