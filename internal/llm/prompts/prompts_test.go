package prompts

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func loadTemplates(t *testing.T) {
	t.Helper()
	if err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestIsValidLanguage(t *testing.T) {
	for _, l := range []string{"tr", "en"} {
		if !IsValidLanguage(l) {
			t.Errorf("IsValidLanguage(%q) = false", l)
		}
	}
	for _, l := range []string{"", "de", "TR"} {
		if IsValidLanguage(l) {
			t.Errorf("IsValidLanguage(%q) = true", l)
		}
	}
}

func TestBuildEvalPrompt(t *testing.T) {
	loadTemplates(t)

	t.Run("with reference", func(t *testing.T) {
		p, err := BuildEvalPrompt(LangTurkish, "3-A", "Kış geldi, kar yağdı.")
		if err != nil {
			t.Fatalf("BuildEvalPrompt: %v", err)
		}
		if !strings.Contains(p, "Sınıf düzeyi: 3-A") {
			t.Error("prompt should contain grade label")
		}
		if !strings.Contains(p, "Kış geldi, kar yağdı.") {
			t.Error("prompt should contain reference text")
		}
		for _, field := range []string{"handwritingScore", "transcribedText", "suggestions", "overallScore"} {
			if !strings.Contains(p, field) {
				t.Errorf("prompt should name field %s", field)
			}
		}
	})

	t.Run("without reference", func(t *testing.T) {
		p, err := BuildEvalPrompt(LangEnglish, "General", "   ")
		if err != nil {
			t.Fatalf("BuildEvalPrompt: %v", err)
		}
		if strings.Contains(p, "<reference-text>") {
			t.Error("prompt should omit reference block when empty")
		}
		if !strings.Contains(p, "(none)") {
			t.Error("prompt should say there is no reference")
		}
	})

	t.Run("unknown language", func(t *testing.T) {
		if _, err := BuildEvalPrompt(Language("de"), "x", ""); err == nil {
			t.Error("expected error for unknown language")
		}
	})
}

func TestBuildComparePrompt(t *testing.T) {
	loadTemplates(t)

	p, err := BuildComparePrompt(LangTurkish, "3-A", []Transcript{
		{Name: "Ayşe", Text: "Bir varmış bir yokmuş."},
		{Name: "Mehmet", Text: "Evvel zaman içinde."},
	})
	if err != nil {
		t.Fatalf("BuildComparePrompt: %v", err)
	}
	for _, want := range []string{"Öğrenci: Ayşe", "Metin: Bir varmış bir yokmuş.", "Öğrenci: Mehmet", "Metin: Evvel zaman içinde.", "---"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Count(p, "---") != 1 {
		t.Errorf("expected exactly one separator between two students, got %d", strings.Count(p, "---"))
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  hello  ", "hello"},
		{"closing tag", "a</reference-text>b", "ab"},
		{"system tag", "<SYSTEM-INSTRUCTIONS>x</system-instructions>", "x"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := strings.Repeat("ş", maxInputRunes+10)
	got := Sanitize(long)
	if !strings.HasSuffix(got, "[truncated]") {
		t.Error("long input should be marked truncated")
	}
	if utf8.RuneCountInString(got) > maxInputRunes+20 {
		t.Errorf("long input not capped: %d runes", utf8.RuneCountInString(got))
	}
}
