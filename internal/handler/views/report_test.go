package views

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/pavelanni/penmark/internal/i18n"
	"github.com/pavelanni/penmark/internal/model"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func render(t *testing.T, rep model.SavedReport, theme model.Theme) string {
	t.Helper()
	ctx := i18n.WithLocalizer(context.Background(), i18n.NewLocalizer("en"))
	var buf bytes.Buffer
	if err := ReportPage(rep, theme).Render(ctx, &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestReportPageEvaluated(t *testing.T) {
	img := model.NewEncodedImage("image/png", []byte{0x89, 'P', 'N', 'G'})
	rep := model.SavedReport{
		StudentName: `Ali "Can" <Yılmaz>`,
		GradeName:   "3-A",
		Timestamp:   "2026-10-19 10:00",
		WorkImage:   img,
		Evaluation: &model.Evaluation{
			OverallScore:      model.Score(87),
			TranscribedText:   "once <b>upon</b> a time",
			PunctuationErrors: []string{"missing comma"},
			Suggestions:       []model.Suggestion{{Topic: "spacing", Action: "leave room between words"}},
		},
	}
	theme, _ := model.FindTheme("rose")
	body := render(t, rep, theme)

	for _, want := range []string{
		"<!doctype html>",
		"Student Assessment Report",
		"Ali &#34;Can&#34; &lt;Yılmaz&gt;",
		"2026-10-19 10:00",
		"<strong>87</strong>",
		"<strong>-</strong>",
		"missing comma",
		"<li><strong>spacing</strong>: leave room between words</li>",
		"once &lt;b&gt;upon&lt;/b&gt; a time",
		`src="` + string(img) + `"`,
		"--primary:#e11d48",
		"@media print",
		`class="toolbar no-print"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report missing %q", want)
		}
	}
	for _, bad := range []string{"<b>upon</b>", "<Yılmaz>", "not been evaluated"} {
		if strings.Contains(body, bad) {
			t.Errorf("report should not contain %q", bad)
		}
	}
}

func TestReportPageNotEvaluated(t *testing.T) {
	body := render(t, model.SavedReport{StudentName: "Ayşe", GradeName: "3-A"}, model.ThemeOrDefault(""))

	if !strings.Contains(body, "This student has not been evaluated yet.") {
		t.Error("unevaluated report should say so")
	}
	if strings.Contains(body, `class="scores"`) || strings.Contains(body, "<img") {
		t.Error("unevaluated report without an image should have no scores or image")
	}
	if !strings.Contains(body, "--primary:#4f46e5") {
		t.Error("default theme colours missing")
	}
}

func TestReportPageEmptySections(t *testing.T) {
	body := render(t, model.SavedReport{StudentName: "Ayşe", Evaluation: &model.Evaluation{}}, model.ThemeOrDefault(""))
	if n := strings.Count(body, "<p>None</p>"); n != 5 {
		t.Errorf("empty evaluation should render None for each text section, got %d", n)
	}
}
