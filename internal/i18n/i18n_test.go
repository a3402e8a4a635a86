package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang, id, want string
	}{
		{"tr", "GeneralGrade", "Genel"},
		{"tr", "CompareShortCircuit", "Kıyaslama için en az 2 öğrenci analizi gereklidir."},
		{"tr", "NoComparison", "Karşılaştırma yapılamadı."},
		{"en", "GeneralGrade", "General"},
		{"en", "ReportTitle", "Student Assessment Report"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestLanguagesListsLocaleFilesOnly(t *testing.T) {
	initLang(t, "de")
	langs := Languages()
	if slices.Contains(langs, "de") {
		t.Errorf("fallback without a locale file should not be listed, got %v", langs)
	}
	if len(langs) != 2 {
		t.Errorf("expected the tr and en locales, got %v", langs)
	}
}

func TestLocalesHaveSameKeys(t *testing.T) {
	initLang(t, "tr")
	if langs := Languages(); !slices.Contains(langs, "tr") || !slices.Contains(langs, "en") {
		t.Fatalf("expected tr and en locales, got %v", langs)
	}
	for _, id := range []string{"AppTitle", "ErrBusy", "ErrNoImage", "ErrAnalysisFailed", "Print", "WorkImage"} {
		tr, en := Lookup("tr", id), Lookup("en", id)
		if tr == id || en == id {
			t.Errorf("message %s missing in a locale (tr=%q en=%q)", id, tr, en)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "StudentsCount", 1); got != "1 student" {
		t.Errorf("Tp(StudentsCount, 1) = %q", got)
	}
	if got := Tp(ctx, "StudentsCount", 5); got != "5 students" {
		t.Errorf("Tp(StudentsCount, 5) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "tr")

	got := Td(ctx, "ReportFooter", map[string]any{"Date": "05.03.2024"})
	if got != "05.03.2024 tarihinde oluşturuldu." {
		t.Errorf("Td(ReportFooter) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want the id back", got)
	}
}

func TestDefaultLocalizer(t *testing.T) {
	initLang(t, "en")
	if got := T(context.Background(), "GeneralGrade"); got != "Genel" {
		t.Errorf("context without localizer should use %s, got %q", DefaultLang, got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "tr")

	var got string
	h := Middleware("tr")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Print")
	}))

	tests := []struct {
		header, want string
	}{
		{"", "Yazdır"},
		{"en-US,en;q=0.9", "Print"},
		{"de", "Yazdır"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}
