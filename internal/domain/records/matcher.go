package records

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

type vocabularyFile struct {
	Keywords []string `yaml:"keywords"`
}

func parseVocabulary(data []byte) ([]string, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keyword vocabulary: %w", err)
	}
	out := make([]string, 0, len(f.Keywords))
	for _, k := range f.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("keyword vocabulary is empty")
	}
	return out, nil
}

// keyword is a vocabulary term and the pattern that finds it as a whole
// word, allowing a plural "s" or "es".
type keyword struct {
	term    string
	pattern *regexp.Regexp
}

func compileKeywords(terms []string) []keyword {
	out := make([]keyword, 0, len(terms))
	for _, t := range terms {
		out = append(out, keyword{
			term:    t,
			pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `(?:e?s)?\b`),
		})
	}
	return out
}

// vocabulary is parsed once; the embedded file is checked by tests.
var vocabulary = sync.OnceValue(func() []keyword {
	v, err := parseVocabulary(keywordsYAML)
	if err != nil {
		panic(err)
	}
	return compileKeywords(v)
})

// MatchResult partitions a patient's records for an appointment. Every input
// record appears in exactly one of the two slices, in input order.
type MatchResult struct {
	AutoMatched []*HealthRecord `json:"auto_matched"`
	Available   []*HealthRecord `json:"available"`
}

// Match splits records into those that look related to an appointment title
// and the rest. Titles are compared case-insensitively. A record matches if
// its title equals the appointment title, either contains the other, or both
// mention a common medical keyword as a whole word. An empty title matches
// nothing.
func Match(records []*HealthRecord, title string) MatchResult {
	res := MatchResult{AutoMatched: []*HealthRecord{}, Available: []*HealthRecord{}}
	want := normalize(title)
	wantKeywords := keywordsIn(want)

	for _, r := range records {
		if r == nil {
			continue
		}
		if want != "" && titlesMatch(normalize(r.Title), want, wantKeywords) {
			res.AutoMatched = append(res.AutoMatched, r)
		} else {
			res.Available = append(res.Available, r)
		}
	}
	return res
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func titlesMatch(got, want string, wantKeywords map[string]bool) bool {
	if got == "" {
		return false
	}
	if got == want || strings.Contains(got, want) || strings.Contains(want, got) {
		return true
	}
	for k := range keywordsIn(got) {
		if wantKeywords[k] {
			return true
		}
	}
	return false
}

func keywordsIn(s string) map[string]bool {
	found := make(map[string]bool)
	if s == "" {
		return found
	}
	for _, k := range vocabulary() {
		if k.pattern.MatchString(s) {
			found[k.term] = true
		}
	}
	return found
}
