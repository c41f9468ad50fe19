package match

import (
	"slices"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := Tokenize("  Login-Feature, done!  api_v2? ")
	want := []string{"login", "feature", "done", "api", "v2"}
	if !slices.Equal(got, want) {
		t.Errorf("Tokenize = %q, want %q", got, want)
	}
	if got := Tokenize("   "); len(got) != 0 {
		t.Errorf("Tokenize(blank) = %q, want empty", got)
	}
}

func TestNormalizer_Extract(t *testing.T) {
	t.Parallel()

	n := DefaultNormalizer()
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"canonical keeps itself", "user", []string{"user"}},
		{"synonym maps to every owner", "authentication", []string{"auth", "login", "user", "account"}},
		{"dedup first seen", "the login and signin", []string{"login", "auth"}},
		{"stop words dropped", "today the and with", []string{}},
		{"thai sentence", "login feature เสร็จแล้ว", []string{"login", "feature"}},
		{"thai keyword", "เสร็จ ทำ", []string{"เสร็จ", "ทำ"}},
		{"unknown", "banana", []string{}},
		{"empty", "", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := n.Extract(tc.text)
			if !slices.Equal(got, tc.want) {
				t.Errorf("Extract(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestNormalizer_ExtractIdempotent(t *testing.T) {
	t.Parallel()

	n := DefaultNormalizer()
	inputs := []string{
		"I fixed the login bug and deployed the api",
		"กำลังทำ dashboard กับ database",
		"working on authentication, testing and release",
	}
	for _, in := range inputs {
		first := n.Extract(in)
		second := n.Extract(strings.Join(first, " "))
		for _, kw := range second {
			if !slices.Contains(first, kw) {
				t.Errorf("Extract(%q): re-extraction produced %q not in %q", in, kw, first)
			}
		}
	}
}

func TestNormalizer_Synonyms(t *testing.T) {
	t.Parallel()

	n := DefaultNormalizer()
	if got := n.Synonyms("DB"); !slices.Equal(got, []string{"database", "data", "storage", "sql"}) {
		t.Errorf("Synonyms(DB) = %q", got)
	}
	if got := n.Synonyms("banana"); got != nil {
		t.Errorf("Synonyms(banana) = %q, want nil", got)
	}
	if !n.IsKeyword("api") || n.IsKeyword("rest") {
		t.Error("IsKeyword: want api canonical and rest not")
	}
}

func TestNewNormalizer_Custom(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(Dictionary{
		{"Billing", []string{"Invoice", "payment"}},
		{"checkout", []string{"payment"}},
	}, []string{"please"})

	got := n.Extract("please send the PAYMENT invoice")
	want := []string{"billing", "checkout"}
	if !slices.Equal(got, want) {
		t.Errorf("Extract = %q, want %q", got, want)
	}
	if kws := n.Keywords(); !slices.Equal(kws, []string{"billing", "checkout"}) {
		t.Errorf("Keywords = %q", kws)
	}
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want Language
	}{
		{"สวัสดีครับ วันนี้ทำงาน", LanguageThai},
		{"finished the login page", LanguageEnglish},
		{"login feature เสร็จแล้ว", LanguageMixed},
		{"12345 !!!", LanguageMixed},
		{"", LanguageMixed},
	}
	for _, tc := range tests {
		if got := DetectLanguage(tc.text); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
