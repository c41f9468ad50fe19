// Package match turns free-form stand-up speech into task suggestions.
//
// A [Normalizer] reduces an utterance to canonical keywords, and a [Matcher]
// scores every task in a catalog by how well its title and description cover
// those keywords. Scoring is purely lexical: exact substrings, edit-distance
// similarity, and partial containment.
package match

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/scrumscribe/internal/tracker"
)

// Tier is a coarse confidence label derived from a match score.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Thresholds controls scoring. The zero value is not useful; start from
// [DefaultThresholds].
type Thresholds struct {
	// KeywordFloor is the minimum fuzzy score for a candidate word to count.
	KeywordFloor float64 `yaml:"keyword_floor"`

	// Inclusion is the minimum task score for a task to be suggested.
	Inclusion float64 `yaml:"inclusion"`

	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`

	TitleWeight       float64 `yaml:"title_weight"`
	DescriptionWeight float64 `yaml:"description_weight"`

	// MaxResults caps the number of suggestions returned.
	MaxResults int `yaml:"max_results"`
}

// DefaultThresholds returns the standard scoring parameters.
func DefaultThresholds() Thresholds {
	return Thresholds{
		KeywordFloor:      0.6,
		Inclusion:         0.3,
		High:              0.8,
		Medium:            0.5,
		TitleWeight:       0.7,
		DescriptionWeight: 0.3,
		MaxResults:        5,
	}
}

// Validate reports inconsistent thresholds.
func (t Thresholds) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}
	unit("keyword_floor", t.KeywordFloor)
	unit("inclusion", t.Inclusion)
	unit("high", t.High)
	unit("medium", t.Medium)
	unit("title_weight", t.TitleWeight)
	unit("description_weight", t.DescriptionWeight)
	if t.Medium > t.High {
		errs = append(errs, fmt.Errorf("medium (%v) must not exceed high (%v)", t.Medium, t.High))
	}
	if t.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("max_results must be positive, got %d", t.MaxResults))
	}
	return errors.Join(errs...)
}

// Tier maps a score onto a confidence tier.
func (t Thresholds) Tier(score float64) Tier {
	switch {
	case score >= t.High:
		return TierHigh
	case score >= t.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

// KeywordMatch is a candidate word found in a text, with its score.
type KeywordMatch struct {
	Keyword string
	Score   float64
}

// Match is one suggested task.
type Match struct {
	TaskID   string   `json:"task_id"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords"`
	Tier     Tier     `json:"tier"`
}

// Result is the outcome of matching one utterance against a catalog.
type Result struct {
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
	Language Language `json:"language"`
	Status   Status   `json:"status"`
	Matches  []Match  `json:"matches"`
}

// Matcher scores tasks against speech. It holds no mutable state.
type Matcher struct {
	norm *Normalizer
	th   Thresholds
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithNormalizer replaces the default bilingual normalizer.
func WithNormalizer(n *Normalizer) Option {
	return func(m *Matcher) { m.norm = n }
}

// WithThresholds replaces [DefaultThresholds].
func WithThresholds(t Thresholds) Option {
	return func(m *Matcher) { m.th = t }
}

// NewMatcher creates a Matcher with default normalizer and thresholds unless
// overridden.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{th: DefaultThresholds()}
	for _, o := range opts {
		o(m)
	}
	if m.norm == nil {
		m.norm = DefaultNormalizer()
	}
	return m
}

// Thresholds returns the scoring parameters in use.
func (m *Matcher) Thresholds() Thresholds { return m.th }

// Normalizer returns the keyword normalizer in use.
func (m *Matcher) Normalizer() *Normalizer { return m.norm }

// Match extracts keywords from speech and returns the best matching tasks,
// highest score first. Tasks with equal scores keep their catalog order.
func (m *Matcher) Match(speech string, tasks []tracker.Task) Result {
	res := Result{
		Text:     speech,
		Keywords: m.norm.Extract(speech),
		Language: DetectLanguage(speech),
		Status:   DetectStatus(speech),
		Matches:  []Match{},
	}
	if len(res.Keywords) == 0 {
		return res
	}

	for _, task := range tasks {
		score, hit := m.Score(res.Keywords, task)
		if score < m.th.Inclusion {
			continue
		}
		res.Matches = append(res.Matches, Match{
			TaskID:   task.ID,
			Title:    task.Title,
			URL:      task.URL,
			Score:    score,
			Keywords: hit,
			Tier:     m.th.Tier(score),
		})
	}

	slices.SortStableFunc(res.Matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(res.Matches) > m.th.MaxResults {
		res.Matches = res.Matches[:m.th.MaxResults]
	}
	return res
}

// Score computes the normalised score of task for the given canonical
// keywords, and the subset of keywords that hit it.
func (m *Matcher) Score(keywords []string, task tracker.Task) (float64, []string) {
	if len(keywords) == 0 {
		return 0, nil
	}
	title := strings.ToLower(task.Title)
	desc := strings.ToLower(task.Description)
	combined := title + " " + desc

	var total float64
	hit := []string{}
	for _, kw := range keywords {
		candidates := append([]string{kw}, m.norm.Synonyms(kw)...)
		if len(m.FindKeywordMatches(combined, candidates)) == 0 {
			continue
		}
		hit = append(hit, kw)
		total += m.th.TitleWeight*m.best(title, candidates) +
			m.th.DescriptionWeight*m.best(desc, candidates)
	}
	return min(total/float64(len(keywords)), 1.0), hit
}

func (m *Matcher) best(text string, candidates []string) float64 {
	if text == "" {
		return 0
	}
	found := m.FindKeywordMatches(text, candidates)
	if len(found) == 0 {
		return 0
	}
	return found[0].Score
}

// FindKeywordMatches scores each candidate against text. An exact substring
// scores 1.0; otherwise the best word-level similarity or partial containment
// is used. Candidates under the keyword floor are dropped. The result is sorted
// by score, highest first.
func (m *Matcher) FindKeywordMatches(text string, candidates []string) []KeywordMatch {
	clean := strings.ToLower(text)
	words := Tokenize(clean)

	var out []KeywordMatch
	for _, cand := range candidates {
		kw := strings.ToLower(cand)
		if kw == "" {
			continue
		}
		if strings.Contains(clean, kw) {
			out = append(out, KeywordMatch{Keyword: cand, Score: 1.0})
			continue
		}
		var best float64
		for _, w := range words {
			if len([]rune(w)) < 2 {
				continue
			}
			best = max(best, Similarity(w, kw), partialScore(w, kw))
		}
		if best >= m.th.KeywordFloor {
			out = append(out, KeywordMatch{Keyword: cand, Score: best})
		}
	}
	slices.SortStableFunc(out, func(a, b KeywordMatch) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}
