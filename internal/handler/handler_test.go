package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/penmark/internal/app"
	"github.com/pavelanni/penmark/internal/i18n"
	"github.com/pavelanni/penmark/internal/media"
	"github.com/pavelanni/penmark/internal/model"
	"github.com/pavelanni/penmark/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("tr"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type stubEvaluator struct {
	eval       *model.Evaluation
	err        error
	compare    string
	compareErr error
}

func (s *stubEvaluator) EvaluateWork(context.Context, model.EncodedImage, string, string) (*model.Evaluation, error) {
	return s.eval.Clone(), s.err
}

func (s *stubEvaluator) ComparePlagiarism(context.Context, []model.Student, string) (string, error) {
	return s.compare, s.compareErr
}

type testServer struct {
	router http.Handler
	app    *app.Controller
}

func newTestServer(t *testing.T, ev app.Evaluator) *testServer {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	c := app.New(s, ev, app.WithImageNormalizer(media.Normalizer{}))
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Close()
		s.Close()
	})

	h := New(c, WithBasePath("/tr"))
	r := chi.NewRouter()
	r.Use(i18n.Middleware("tr"))
	r.Use(h.BasePathMiddleware)
	h.Routes(r)
	return &testServer{router: r, app: c}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp idResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode id: %v (body %s)", err, rec.Body.String())
	}
	return resp.ID
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func (ts *testServer) upload(t *testing.T, studentID string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "work.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/students/"+studentID+"/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// seed creates a grade and a student with an uploaded image.
func (ts *testServer) seed(t *testing.T) (gradeID, studentID string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/grades", gradeRequest{Name: "3-A"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add grade: %d %s", rec.Code, rec.Body.String())
	}
	gradeID = decodeID(t, rec)

	rec = ts.do(t, http.MethodPost, "/api/students", studentRequest{Name: "Ayşe", GradeID: gradeID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add student: %d %s", rec.Code, rec.Body.String())
	}
	studentID = decodeID(t, rec)

	if rec := ts.upload(t, studentID, pngBytes(t)); rec.Code != http.StatusNoContent {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	return gradeID, studentID
}

func sampleEvaluation() *model.Evaluation {
	return &model.Evaluation{
		HandwritingScore:  model.Score(8),
		OriginalityScore:  model.Score(7),
		PunctuationErrors: []string{"virgül eksik"},
		ConceptKnowledge:  "iyi",
		TranscribedText:   "Bir varmış <b>bir</b> yokmuş.",
		CreativityScore:   nil,
		OverallScore:      model.Score(87),
		Weaknesses:        []string{},
		Suggestions:       []model.Suggestion{{Topic: "noktalama", Action: "virgül çalışması"}},
	}
}

func TestAnalysisFlow(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{eval: sampleEvaluation()})
	_, sid := ts.seed(t)

	rec := ts.do(t, http.MethodPost, "/api/students/"+sid+"/analysis", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analysis: %d %s", rec.Code, rec.Body.String())
	}
	var eval model.Evaluation
	if err := json.NewDecoder(rec.Body).Decode(&eval); err != nil {
		t.Fatal(err)
	}
	if eval.OverallScore == nil || *eval.OverallScore != 87 {
		t.Errorf("overall = %s", model.FormatScore(eval.OverallScore))
	}

	rec = ts.do(t, http.MethodGet, "/api/state", nil)
	var state stateResponse
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Busy {
		t.Error("busy should be false after analysis")
	}
	if state.States[sid] != model.StateEvaluated {
		t.Errorf("state = %s, want evaluated", state.States[sid])
	}
	if !strings.HasPrefix(string(state.Document.Students[0].WorkImage), "data:image/png;base64,") {
		t.Error("uploaded image should be stored as a data URL")
	}
	if state.Theme.ID != model.DefaultThemeID {
		t.Errorf("theme = %q", state.Theme.ID)
	}

	rec = ts.do(t, http.MethodPost, "/api/students/"+sid+"/reports", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save report: %d %s", rec.Code, rec.Body.String())
	}
	var saved idResponse
	if err := json.NewDecoder(rec.Body).Decode(&saved); err != nil {
		t.Fatal(err)
	}
	if saved.URL != "/tr/reports/"+saved.ID {
		t.Errorf("report url = %q", saved.URL)
	}

	rec = ts.do(t, http.MethodGet, "/reports/"+saved.ID, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ayşe") {
		t.Errorf("saved report page: %d", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", fmt.Errorf("%w: empty", app.ErrValidation), http.StatusBadRequest},
		{"no image", app.ErrNoImage, http.StatusUnprocessableEntity},
		{"busy", app.ErrBusy, http.StatusConflict},
		{"stale", app.ErrStaleResult, http.StatusConflict},
		{"not loaded", app.ErrNotLoaded, http.StatusServiceUnavailable},
		{"analysis", fmt.Errorf("%w: timeout", app.ErrAnalysisFailed), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := errorStatus(tt.err); got != tt.status {
				t.Errorf("status = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestAnalysisErrors(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{err: fmt.Errorf("%w: quota", app.ErrAnalysisFailed)})
	gid, sid := ts.seed(t)

	rec := ts.do(t, http.MethodPost, "/api/students/"+sid+"/analysis", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed analysis: got %d, want 502", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "Analiz sırasında bir hata oluştu." {
		t.Errorf("error message = %q", resp.Error)
	}

	rec = ts.do(t, http.MethodPost, "/api/students", studentRequest{Name: "Mehmet", GradeID: gid})
	other := decodeID(t, rec)
	if rec := ts.do(t, http.MethodPost, "/api/students/"+other+"/analysis", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("analysis without image: got %d, want 422", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/students/ghost/analysis", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown student: got %d, want 400", rec.Code)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"empty grade", http.MethodPost, "/api/grades", gradeRequest{Name: ""}, http.StatusBadRequest},
		{"blank grade", http.MethodPost, "/api/grades", gradeRequest{Name: "   "}, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/grades", "{not json", http.StatusBadRequest},
		{"student without grade", http.MethodPost, "/api/students", studentRequest{Name: "Ayşe"}, http.StatusBadRequest},
		{"student unknown grade", http.MethodPost, "/api/students", studentRequest{Name: "Ayşe", GradeID: "x"}, http.StatusBadRequest},
		{"report unknown student", http.MethodPost, "/api/students/x/reports", nil, http.StatusBadRequest},
		{"plagiarism unknown grade", http.MethodPost, "/api/grades/x/plagiarism", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := ts.do(t, tt.method, tt.path, tt.body); rec.Code != tt.status {
				t.Errorf("got %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
	if n := len(ts.app.Snapshot().Grades); n != 0 {
		t.Errorf("rejected requests created %d grades", n)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{})
	_, sid := ts.seed(t)

	if rec := ts.upload(t, sid, []byte("%PDF-1.4 not an image")); rec.Code != http.StatusBadRequest {
		t.Errorf("pdf upload: got %d, want 400", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/students/"+sid+"/image", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing form file: got %d, want 400", rec.Code)
	}
}

func TestReferenceTextAndTheme(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{})

	if rec := ts.do(t, http.MethodPut, "/api/reference-text", referenceTextRequest{Text: "Kış geldi."}); rec.Code != http.StatusNoContent {
		t.Fatalf("reference text: %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPut, "/api/theme", themeRequest{ThemeID: "emerald"}); rec.Code != http.StatusNoContent {
		t.Fatalf("theme: %d", rec.Code)
	}
	doc := ts.app.Snapshot()
	if doc.ReferenceText != "Kış geldi." || doc.CurrentThemeID != "emerald" {
		t.Errorf("unexpected document %+v", doc)
	}

	rec := ts.do(t, http.MethodGet, "/api/themes", nil)
	var themes []model.Theme
	if err := json.NewDecoder(rec.Body).Decode(&themes); err != nil {
		t.Fatal(err)
	}
	if len(themes) != len(model.Themes) {
		t.Errorf("got %d themes", len(themes))
	}
}

func TestPlagiarism(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{compare: "Kıyaslama için en az 2 öğrenci analizi gereklidir."})
	gid, _ := ts.seed(t)

	rec := ts.do(t, http.MethodPost, "/api/grades/"+gid+"/plagiarism", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("plagiarism: %d %s", rec.Code, rec.Body.String())
	}
	var resp plagiarismResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result == "" {
		t.Error("expected comparison result")
	}
}

func TestPlagiarismModelFailure(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{
		compareErr: fmt.Errorf("%w: LLM comparison call: %w", app.ErrAnalysisFailed, errors.New("quota exceeded")),
	})
	gid, _ := ts.seed(t)

	rec := ts.do(t, http.MethodPost, "/api/grades/"+gid+"/plagiarism", nil)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("plagiarism with failing model: got %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quota exceeded") {
		t.Errorf("error detail missing: %s", rec.Body.String())
	}
}

func TestStudentReportPage(t *testing.T) {
	ts := newTestServer(t, &stubEvaluator{eval: sampleEvaluation()})
	_, sid := ts.seed(t)

	rec := ts.do(t, http.MethodGet, "/students/"+sid+"/report", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report before analysis: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "henüz değerlendirilmedi") {
		t.Error("unevaluated report should say so")
	}

	ts.do(t, http.MethodPost, "/api/students/"+sid+"/analysis", nil)
	rec = ts.do(t, http.MethodGet, "/students/"+sid+"/report", nil)
	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	for _, want := range []string{
		"Ayşe", "3-A", "Genel Puan", "87", "virgül eksik", "noktalama",
		"@media print", "no-print", "#4f46e5", "data:image/png;base64,",
		"Bir varmış &lt;b&gt;bir&lt;/b&gt; yokmuş.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(body, "<b>bir</b>") {
		t.Error("transcript must be escaped")
	}

	if rec := ts.do(t, http.MethodGet, "/students/ghost/report", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown student: got %d, want 404", rec.Code)
	}
}
