package flow

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// choice is the outcome of matching input against a two-option question.
type choice int

const (
	choiceNone choice = iota
	choiceFirst
	choiceSecond
)

// choiceSet lists the accepted spellings of both options, already folded.
type choiceSet struct {
	first  map[string]struct{}
	second map[string]struct{}
}

func newChoiceSet(first, second []string) choiceSet {
	return choiceSet{first: wordSet(first...), second: wordSet(second...)}
}

func (c choiceSet) match(input string) choice {
	key := normalizeInput(input)
	if _, ok := c.first[key]; ok {
		return choiceFirst
	}
	if _, ok := c.second[key]; ok {
		return choiceSecond
	}
	return choiceNone
}

var (
	languageChoices = newChoiceSet(
		[]string{"1", "рус", "русский", "ru", "rus"},
		[]string{"2", "каз", "қаз", "казахский", "қазақша", "kaz", "kz"},
	)
	categoryChoices = newChoiceSet(
		[]string{"1", "автосалон"},
		[]string{"2", "клиент"},
	)
	cooperationChoices = newChoiceSet(
		[]string{"1", "да", "yes", "иә", "иа"},
		[]string{"2", "нет", "no", "жоқ"},
	)
	restartPhrases = wordSet("9", "новая заявка", "жаңа өтінім")
)

func isRestart(input string) bool {
	_, ok := restartPhrases[normalizeInput(input)]
	return ok
}

func wordSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[normalizeInput(w)] = struct{}{}
	}
	return out
}

// Emoji presentation selector and combining keycap: "1️⃣" and "1⃣" both become "1".
const (
	variationSelector16 = "\uFE0F"
	combiningKeycap     = "\u20E3"
)

// normalizeInput folds case, NFC-normalizes, strips keycap decorations, collapses
// inner whitespace and trims surrounding punctuation.
func normalizeInput(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, variationSelector16, "")
	s = strings.ReplaceAll(s, combiningKeycap, "")
	s = cases.Fold().String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, ".,!?;:\"'«»")
}
