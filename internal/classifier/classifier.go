package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/pbaille/worklog/internal/domain"
)

const (
	markerConfidence    = 0.8
	ambiguousConfidence = 0.5
	fallbackKeyRunes    = 10
)

var startMarkers = []string{
	"begin", "beginning", "began", "start", "starting", "starting now", "started",
	"kick off", "kicking off", "kicked off", "let's start", "getting started",
	"開始", "始め", "始まり", "スタート", "取りかか",
}

var endMarkers = []string{
	"finished", "finish", "finishing", "done", "completed", "wrapped up", "wrapping up",
	"wrap up", "ended", "ending", "stopped", "stopping", "end of", "over now",
	"終了", "終わ", "おわり", "完了", "済み",
}

var rangePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bfrom\b.+\bto\b`),
	regexp.MustCompile(`[~〜]`),
	regexp.MustCompile(`\d{1,2}:\d{2}\s*[-–]\s*\d{1,2}:\d{2}`),
	regexp.MustCompile(`から.+まで`),
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true, "to": true,
	"for": true, "in": true, "on": true, "at": true, "with": true, "my": true, "i": true,
	"is": true, "it": true, "now": true, "just": true, "up": true, "from": true, "we": true,
	"am": true, "was": true, "be": true, "this": true, "that": true, "our": true,
}

// Classifier decides whether content opens an activity, closes one, or is self-contained
type Classifier struct {
	vocabulary []string
	markers    map[string]bool
}

// New creates a Classifier over the built-in activity vocabulary
func New() *Classifier {
	vocab := make([]string, len(activityVocabulary))
	copy(vocab, activityVocabulary)
	// Longer phrases win: "design review" before "review".
	sort.SliceStable(vocab, func(i, j int) bool {
		return utf8.RuneCountInString(vocab[i]) > utf8.RuneCountInString(vocab[j])
	})

	markers := make(map[string]bool)
	for _, family := range [][]string{startMarkers, endMarkers} {
		for _, m := range family {
			for _, w := range strings.Fields(m) {
				markers[w] = true
			}
		}
	}

	return &Classifier{vocabulary: vocab, markers: markers}
}

// Classify analyzes content submitted at inputTimestamp. timezone is an IANA
// zone name; empty means UTC. Ordinary text never fails: ambiguous content
// is classified as complete with low confidence.
func (c *Classifier) Classify(content string, inputTimestamp time.Time, timezone string) (result *domain.LogTypeAnalysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = domain.NewError(domain.CodeLogTypeAnalysisError, "classify", fmt.Errorf("text processing panic: %v", r))
		}
	}()

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, domain.NewError(domain.CodeLogTypeAnalysisError, "classify", err, "timezone", timezone)
	}

	text := Normalize(content)
	tokens := tokenize(text)
	padded := " " + strings.Join(tokens, " ") + " "

	starts := findMarkers(text, padded, startMarkers)
	ends := findMarkers(text, padded, endMarkers)
	ranged := hasRange(text)

	out := &domain.LogTypeAnalysis{
		ActivityKey: c.activityKey(text, padded),
		Keywords:    c.keywords(tokens),
		LocalTime:   inputTimestamp.In(loc),
	}

	switch {
	case ranged && len(starts) == 0 && len(ends) == 0:
		out.LogType, out.Confidence = domain.Complete, markerConfidence
		out.Reasoning = "time range found without start or end markers"
	case len(starts) > 0 && len(ends) == 0:
		out.LogType, out.Confidence = domain.StartOnly, markerConfidence
		out.Reasoning = fmt.Sprintf("start markers %v", starts)
	case len(ends) > 0 && len(starts) == 0:
		out.LogType, out.Confidence = domain.EndOnly, markerConfidence
		out.Reasoning = fmt.Sprintf("end markers %v", ends)
	default:
		out.LogType, out.Confidence = domain.Complete, ambiguousConfidence
		if len(starts) > 0 {
			out.Reasoning = fmt.Sprintf("ambiguous: start markers %v and end markers %v", starts, ends)
		} else {
			out.Reasoning = "no start, end or range markers"
		}
	}

	return out, nil
}

// Normalize folds width, lower-cases and collapses whitespace
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// matchPhrase checks ASCII phrases on token boundaries and everything else
// as a plain substring, since CJK text has no spaces to split on.
func matchPhrase(text, padded, phrase string) bool {
	if isASCII(phrase) {
		return strings.Contains(padded, " "+phrase+" ")
	}
	return strings.Contains(text, phrase)
}

func findMarkers(text, padded string, family []string) []string {
	var found []string
	for _, m := range family {
		if matchPhrase(text, padded, m) {
			found = append(found, m)
		}
	}
	return found
}

func hasRange(text string) bool {
	for _, re := range rangePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (c *Classifier) activityKey(text, padded string) string {
	for _, v := range c.vocabulary {
		if matchPhrase(text, padded, v) {
			return v
		}
	}
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= fallbackKeyRunes {
		return trimmed
	}
	return string([]rune(trimmed)[:fallbackKeyRunes])
}

func (c *Classifier) keywords(tokens []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < 2 || stopWords[tok] || c.markers[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
