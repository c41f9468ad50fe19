package match

import (
	"regexp"
	"slices"
	"strings"
)

// Language is the script-based language tag reported for an utterance.
type Language string

const (
	LanguageThai    Language = "th"
	LanguageEnglish Language = "en"
	LanguageMixed   Language = "mixed"
)

// Entry is one row of a [Dictionary]: a canonical keyword and the words that
// map onto it.
type Entry struct {
	Keyword  string
	Synonyms []string
}

// Dictionary is an ordered keyword→synonyms table. Order matters only for the
// order in which extracted keywords are reported.
type Dictionary []Entry

// DefaultDictionary returns the bilingual stand-up vocabulary: common software
// work areas in English plus Thai progress verbs.
func DefaultDictionary() Dictionary {
	return Dictionary{
		// Authentication and user management.
		{"auth", []string{"authentication", "user", "login", "signin", "account", "profile"}},
		{"login", []string{"authentication", "signin", "user", "account"}},
		{"user", []string{"authentication", "account", "profile", "management"}},
		{"account", []string{"user", "profile", "authentication"}},
		{"profile", []string{"user", "account", "management"}},

		// API and backend.
		{"api", []string{"endpoint", "backend", "service", "rest", "server"}},
		{"endpoint", []string{"api", "backend", "service", "rest"}},
		{"backend", []string{"api", "server", "service", "database"}},
		{"server", []string{"backend", "api", "service", "deployment"}},
		{"service", []string{"api", "backend", "server", "microservice"}},

		// Database.
		{"database", []string{"db", "data", "storage", "mysql", "mongo", "sql"}},
		{"db", []string{"database", "data", "storage", "sql"}},
		{"data", []string{"database", "storage", "db", "model"}},
		{"sql", []string{"database", "query", "data", "mysql"}},

		// Frontend and UI.
		{"frontend", []string{"ui", "dashboard", "interface", "component", "react"}},
		{"dashboard", []string{"ui", "frontend", "interface", "admin"}},
		{"ui", []string{"frontend", "interface", "component", "design"}},
		{"interface", []string{"ui", "frontend", "design", "component"}},
		{"component", []string{"ui", "frontend", "react", "vue"}},

		// Testing.
		{"test", []string{"testing", "unit", "integration", "qa", "spec"}},
		{"testing", []string{"test", "unit", "integration", "qa"}},
		{"unit", []string{"test", "testing", "spec", "jest"}},
		{"integration", []string{"test", "testing", "e2e"}},

		// General development.
		{"feature", []string{"functionality", "implementation", "development"}},
		{"bug", []string{"fix", "issue", "error", "debug", "problem"}},
		{"fix", []string{"bug", "issue", "error", "debug", "repair"}},
		{"deploy", []string{"deployment", "release", "production", "staging"}},
		{"optimization", []string{"performance", "optimize", "improve", "enhance"}},

		// Progress verbs.
		{"เสร็จ", []string{"done", "complete", "finished", "completed"}},
		{"ทำ", []string{"doing", "working", "develop", "implement"}},
		{"จะทำ", []string{"todo", "will do", "planning", "next"}},
		{"กำลังทำ", []string{"doing", "working", "in progress", "developing"}},
	}
}

// DefaultStopWords returns filler and connective words in Thai and English
// that never carry task meaning.
func DefaultStopWords() []string {
	return []string{
		"วันนี้", "เมื่อวาน", "พรุ่งนี้", "แล้ว", "ครับ", "ค่ะ", "นะ", "อ่ะ", "เอ่อ",
		"คือ", "ที่", "แล้วก็", "ด้วย", "ไป", "มา", "ให้", "กับ", "ใน", "ของ",
		"the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with",
		"today", "yesterday", "tomorrow", "now", "then", "will", "going", "gonna",
	}
}

// tokenSplit separates words on whitespace and common punctuation.
var tokenSplit = regexp.MustCompile(`[\s,.\-_!?]+`)

// Normalizer turns free-form speech into canonical keywords. It is read-only
// after construction and safe for concurrent use.
type Normalizer struct {
	order     []string
	synonyms  map[string][]string
	canonical map[string][]string // synonym → canonical keywords, dictionary order
	stop      map[string]struct{}
}

// NewNormalizer builds a Normalizer from dict and stopWords. Keywords and
// synonyms are lower-cased.
func NewNormalizer(dict Dictionary, stopWords []string) *Normalizer {
	n := &Normalizer{
		synonyms:  make(map[string][]string, len(dict)),
		canonical: make(map[string][]string),
		stop:      make(map[string]struct{}, len(stopWords)),
	}
	for _, e := range dict {
		kw := strings.ToLower(e.Keyword)
		if _, dup := n.synonyms[kw]; !dup {
			n.order = append(n.order, kw)
		}
		syns := make([]string, 0, len(e.Synonyms))
		for _, s := range e.Synonyms {
			s = strings.ToLower(s)
			syns = append(syns, s)
			if !slices.Contains(n.canonical[s], kw) {
				n.canonical[s] = append(n.canonical[s], kw)
			}
		}
		n.synonyms[kw] = syns
	}
	for _, w := range stopWords {
		n.stop[strings.ToLower(w)] = struct{}{}
	}
	return n
}

// DefaultNormalizer returns a Normalizer over [DefaultDictionary] and
// [DefaultStopWords].
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(DefaultDictionary(), DefaultStopWords())
}

// Tokenize lower-cases and trims text, then splits it into non-empty words.
func Tokenize(text string) []string {
	clean := strings.TrimSpace(strings.ToLower(text))
	if clean == "" {
		return nil
	}
	parts := tokenSplit.Split(clean, -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Extract returns the de-duplicated canonical keywords found in text. A token
// that is a canonical keyword stands for itself; any other token is replaced
// by every canonical keyword listing it as a synonym. Stop words and unknown
// tokens are dropped.
func (n *Normalizer) Extract(text string) []string {
	keywords := []string{}
	seen := make(map[string]struct{})
	add := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	for _, tok := range Tokenize(text) {
		if _, ok := n.stop[tok]; ok {
			continue
		}
		if _, ok := n.synonyms[tok]; ok {
			add(tok)
			continue
		}
		for _, kw := range n.canonical[tok] {
			add(kw)
		}
	}
	return keywords
}

// Synonyms returns the synonym list of a canonical keyword, or nil.
func (n *Normalizer) Synonyms(keyword string) []string {
	return n.synonyms[strings.ToLower(keyword)]
}

// IsKeyword reports whether word is a canonical keyword.
func (n *Normalizer) IsKeyword(word string) bool {
	_, ok := n.synonyms[strings.ToLower(word)]
	return ok
}

// Keywords returns all canonical keywords in dictionary order.
func (n *Normalizer) Keywords() []string {
	return slices.Clone(n.order)
}

// DetectLanguage classifies text by script. Mixed covers both scripts present
// and no letters at all.
func DetectLanguage(text string) Language {
	var thai, latin int
	for _, r := range text {
		switch {
		case r >= 0x0E00 && r <= 0x0E7F:
			thai++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	switch {
	case thai > 0 && latin > 0:
		return LanguageMixed
	case thai > latin:
		return LanguageThai
	case latin > 0:
		return LanguageEnglish
	default:
		return LanguageMixed
	}
}
