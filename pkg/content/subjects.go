package content

import (
	"strings"
	"unicode"
)

// TelecomSubjects is the default subject vocabulary.
var TelecomSubjects = []string{
	"bandwidth",
	"slice/slicing",
	"throughput",
	"orchestration",
	"virtualization",
	"disaggregation",
	"backhaul",
	"fronthaul",
	"roaming",
	"api",
	"fiber",
	"orchestrator",
	"automation",
	"ran",
	"mimo",
	"nfv",
	"sdn",
	"telemetry",
	"containerization",
	"microservices",
	"cloudification",
	"bss",
	"oss",
	"qos",
	"sla",
}

const stemLen = 4

// KeywordClassifier tags text with every subject sharing a word with it. Words longer
// than four letters also match on their first four letters, so "orchestrate" tags
// "orchestration".
type KeywordClassifier struct {
	subjects []subjectTerms
}

type subjectTerms struct {
	name  string
	words []string
	stems []string
}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds a classifier over subjects, or TelecomSubjects when empty.
func NewKeywordClassifier(subjects ...string) *KeywordClassifier {
	if len(subjects) == 0 {
		subjects = TelecomSubjects
	}
	kc := &KeywordClassifier{}
	for _, s := range subjects {
		words := tokenize(s)
		if len(words) == 0 {
			continue
		}
		kc.subjects = append(kc.subjects, subjectTerms{name: s, words: words, stems: stems(words)})
	}
	return kc
}

// Classify returns the matching subjects in vocabulary order.
func (k *KeywordClassifier) Classify(text string) []string {
	words := tokenize(text)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}
	stemSet := make(map[string]struct{})
	for _, s := range stems(words) {
		stemSet[s] = struct{}{}
	}

	matched := []string{}
	for _, subj := range k.subjects {
		if containsAny(wordSet, subj.words) || containsAny(stemSet, subj.stems) {
			matched = append(matched, subj.name)
		}
	}
	return matched
}

func containsAny(set map[string]struct{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

func stems(words []string) []string {
	var out []string
	for _, w := range words {
		if r := []rune(w); len(r) > stemLen {
			out = append(out, string(r[:stemLen]))
		}
	}
	return out
}
