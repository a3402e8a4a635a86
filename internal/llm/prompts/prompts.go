package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxInputRunes = 10000

var (
	referenceTextRegex      = regexp.MustCompile(`(?i)</?\s*reference-text\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Language selects the language the prompts are written in.
type Language string

const (
	// LangTurkish is the default prompt language.
	LangTurkish Language = "tr"
	// LangEnglish is the English prompt language.
	LangEnglish Language = "en"
)

var validLanguages = map[Language]bool{
	LangTurkish: true,
	LangEnglish: true,
}

var (
	loadOnce         sync.Once
	loadErr          error
	evalTemplates    map[Language]*template.Template
	compareTemplates map[Language]*template.Template
)

// IsValidLanguage checks if a prompt language is supported.
func IsValidLanguage(l string) bool {
	return validLanguages[Language(l)]
}

// EvalData holds template data for evaluation prompts.
type EvalData struct {
	GradeLabel    string
	ReferenceText string
}

// Transcript is one student's transcribed text for comparison.
type Transcript struct {
	Name string
	Text string
}

// CompareData holds template data for comparison prompts.
type CompareData struct {
	GradeLabel string
	Students   []Transcript
}

// Load parses the embedded prompt templates. It is safe to call repeatedly;
// the templates are parsed once.
func Load() error {
	return LoadFS(templateFS)
}

// LoadFS parses prompt templates from fsys. Only the first call has any effect.
func LoadFS(fsys fs.FS) error {
	loadOnce.Do(func() {
		evalTemplates = make(map[Language]*template.Template)
		compareTemplates = make(map[Language]*template.Template)

		for _, l := range []Language{LangTurkish, LangEnglish} {
			evalTmpl, err := parse(fsys, "templates/evaluate_"+string(l)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			evalTemplates[l] = evalTmpl

			compareTmpl, err := parse(fsys, "templates/compare_"+string(l)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			compareTemplates[l] = compareTmpl
		}
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.New("failed to read prompt file " + name + ": " + err.Error())
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, errors.New("failed to parse prompt template " + name + ": " + err.Error())
	}
	return tmpl, nil
}

// BuildEvalPrompt builds the rubric prompt sent alongside a work image.
func BuildEvalPrompt(lang Language, gradeLabel, referenceText string) (string, error) {
	tmpl, err := lookup(evalTemplates, lang)
	if err != nil {
		return "", err
	}
	data := EvalData{
		GradeLabel:    strings.TrimSpace(gradeLabel),
		ReferenceText: Sanitize(referenceText),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildComparePrompt builds the verbatim-overlap prompt for a set of transcripts.
func BuildComparePrompt(lang Language, gradeLabel string, students []Transcript) (string, error) {
	tmpl, err := lookup(compareTemplates, lang)
	if err != nil {
		return "", err
	}
	data := CompareData{GradeLabel: strings.TrimSpace(gradeLabel)}
	for _, s := range students {
		data.Students = append(data.Students, Transcript{
			Name: strings.TrimSpace(s.Name),
			Text: Sanitize(s.Text),
		})
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lookup(set map[Language]*template.Template, lang Language) (*template.Template, error) {
	if set == nil {
		return nil, errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := set[lang]
	if !ok {
		if loadErr != nil {
			return nil, fmt.Errorf("templates load failed: %w", loadErr)
		}
		return nil, errors.New("invalid prompt language: " + string(lang))
	}
	return tmpl, nil
}

// Sanitize strips prompt delimiters from user-supplied text and caps its length.
func Sanitize(text string) string {
	text = referenceTextRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > maxInputRunes {
		runes := []rune(text)
		text = string(runes[:maxInputRunes]) + "\n\n[truncated]"
	}
	return text
}
