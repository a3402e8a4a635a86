package model

import (
	"context"
	"strconv"
)

// DefaultThemeID is the theme used when none has been selected yet.
const DefaultThemeID = "indigo"

// StudentState is the analysis lifecycle state of a student's work sample.
type StudentState string

const (
	// StateEmpty means no work image has been attached.
	StateEmpty StudentState = "empty"
	// StatePending means an image is attached but not evaluated.
	StatePending StudentState = "pending"
	// StateAnalyzing means the image is currently being evaluated.
	StateAnalyzing StudentState = "analyzing"
	// StateEvaluated means the current image has an evaluation.
	StateEvaluated StudentState = "evaluated"
)

// Grade is a named group of students (a class or cohort).
type Grade struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Student is a single student and their most recent work sample.
type Student struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	GradeID    string       `json:"gradeId"`
	WorkImage  EncodedImage `json:"workImage,omitempty"`
	Evaluation *Evaluation  `json:"evaluation,omitempty"`
}

// State derives the lifecycle state from the stored fields. An evaluation
// without an image is treated as Empty.
func (s Student) State() StudentState {
	switch {
	case s.WorkImage == "":
		return StateEmpty
	case s.Evaluation == nil:
		return StatePending
	default:
		return StateEvaluated
	}
}

// Suggestion is a remediation hint attached to an evaluation.
type Suggestion struct {
	Topic  string `json:"topic"`
	Action string `json:"action"`
}

// Evaluation is the scored analysis of one work sample. A nil score means
// the sample is unscored on that axis.
type Evaluation struct {
	HandwritingScore  *float64     `json:"handwritingScore"`
	OriginalityScore  *float64     `json:"originalityScore"`
	PunctuationErrors []string     `json:"punctuationErrors"`
	ConceptKnowledge  string       `json:"conceptKnowledge"`
	TranscribedText   string       `json:"transcribedText"`
	CreativityScore   *float64     `json:"creativityScore"`
	PlagiarismNote    string       `json:"plagiarismNote"`
	OverallScore      *float64     `json:"overallScore"`
	Weaknesses        []string     `json:"weaknesses"`
	Suggestions       []Suggestion `json:"suggestions"`
}

// Clone returns a deep copy of e.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}
	c := *e
	c.HandwritingScore = cloneScore(e.HandwritingScore)
	c.OriginalityScore = cloneScore(e.OriginalityScore)
	c.CreativityScore = cloneScore(e.CreativityScore)
	c.OverallScore = cloneScore(e.OverallScore)
	c.PunctuationErrors = cloneSlice(e.PunctuationErrors)
	c.Weaknesses = cloneSlice(e.Weaknesses)
	c.Suggestions = cloneSlice(e.Suggestions)
	return &c
}

// Score returns a pointer to v, for building evaluations by hand.
func Score(v float64) *float64 {
	return &v
}

// FormatScore renders a score for display, using a dash when unscored.
func FormatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return strconv.FormatFloat(*s, 'f', -1, 64)
}

// SavedReport is a denormalised snapshot of an evaluated student.
type SavedReport struct {
	ID          string       `json:"id"`
	StudentName string       `json:"studentName"`
	GradeName   string       `json:"gradeName"`
	Timestamp   string       `json:"timestamp"`
	Evaluation  *Evaluation  `json:"evaluation"`
	WorkImage   EncodedImage `json:"workImage,omitempty"`
}

// Document is the persisted root holding all session state.
type Document struct {
	Grades         []Grade       `json:"grades"`
	Students       []Student     `json:"students"`
	ReferenceText  string        `json:"referenceText"`
	SavedReports   []SavedReport `json:"savedReports"`
	CurrentThemeID string        `json:"currentThemeId"`
}

// NewDocument returns the empty document used on a fresh install.
func NewDocument() Document {
	return Document{
		Grades:         []Grade{},
		Students:       []Student{},
		SavedReports:   []SavedReport{},
		CurrentThemeID: DefaultThemeID,
	}
}

// Normalize fills in defaults for fields missing from older documents.
func (d *Document) Normalize() {
	if d.Grades == nil {
		d.Grades = []Grade{}
	}
	if d.Students == nil {
		d.Students = []Student{}
	}
	if d.SavedReports == nil {
		d.SavedReports = []SavedReport{}
	}
	if d.CurrentThemeID == "" {
		d.CurrentThemeID = DefaultThemeID
	}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	c := d
	c.Grades = cloneSlice(d.Grades)
	if d.Students != nil {
		c.Students = make([]Student, len(d.Students))
		for i, s := range d.Students {
			s.Evaluation = s.Evaluation.Clone()
			c.Students[i] = s
		}
	}
	if d.SavedReports != nil {
		c.SavedReports = make([]SavedReport, len(d.SavedReports))
		for i, r := range d.SavedReports {
			r.Evaluation = r.Evaluation.Clone()
			c.SavedReports[i] = r
		}
	}
	return c
}

// FindGrade returns the grade with the given id.
func (d *Document) FindGrade(id string) (Grade, bool) {
	for _, g := range d.Grades {
		if g.ID == id {
			return g, true
		}
	}
	return Grade{}, false
}

// StudentIndex returns the position of the student with the given id, or -1.
func (d *Document) StudentIndex(id string) int {
	for i := range d.Students {
		if d.Students[i].ID == id {
			return i
		}
	}
	return -1
}

// StudentsInGrade returns the students belonging to a grade, in insertion order.
func (d *Document) StudentsInGrade(gradeID string) []Student {
	var out []Student
	for _, s := range d.Students {
		if s.GradeID == gradeID {
			out = append(out, s)
		}
	}
	return out
}

func cloneScore(s *float64) *float64 {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
