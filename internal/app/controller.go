// Package app holds the application state: grades, students, the reference
// text and saved reports, loaded once from the store and written back after
// every change. It also runs the per-student analysis lifecycle:
//
//	Empty --attach--> Pending --analyze--> Analyzing --ok--> Evaluated
//	                     ^                     |                 |
//	                     +------ failure ------+                 |
//	                     +------------- re-attach ---------------+
//
// At most one analysis runs at a time across the whole application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/penmark/internal/model"
)

// DefaultKey is the store key the document lives under.
const DefaultKey = "appData"

// Store loads and saves the whole application document under one key.
type Store interface {
	Load(ctx context.Context, key string) (*model.Document, error)
	Save(ctx context.Context, key string, doc *model.Document) error
}

// Evaluator scores work images and compares transcripts.
type Evaluator interface {
	EvaluateWork(ctx context.Context, img model.EncodedImage, gradeLabel, referenceText string) (*model.Evaluation, error)
	ComparePlagiarism(ctx context.Context, students []model.Student, gradeLabel string) (string, error)
}

// ImageNormalizer turns uploaded bytes into an encoded work image.
type ImageNormalizer interface {
	Normalize(data []byte) (model.EncodedImage, error)
}

// ErrStaleResult is returned when a student's image was replaced while its
// previous image was being analyzed. The result is discarded.
var ErrStaleResult = errors.New("work image changed during analysis")

// Controller owns the in-memory document and mediates every change to it.
type Controller struct {
	store             Store
	evaluator         Evaluator
	normalizer        ImageNormalizer
	logger            *slog.Logger
	key               string
	newID             func() string
	now               func() time.Time
	defaultGradeLabel string

	mu          sync.Mutex
	doc         model.Document
	loadStarted bool
	loadDone    chan struct{}
	loadErr     error
	loaded      bool
	busy        bool
	analyzing   string
	persist     *persister
}

// Option configures a Controller.
type Option func(*Controller)

// WithKey sets the store key.
func WithKey(key string) Option {
	return func(c *Controller) { c.key = key }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) { c.newID = fn }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Controller) { c.now = fn }
}

// WithDefaultGradeLabel sets the label used when a student's grade cannot be found.
func WithDefaultGradeLabel(label string) Option {
	return func(c *Controller) { c.defaultGradeLabel = label }
}

// WithImageNormalizer sets the normalizer used by AttachImageBytes.
func WithImageNormalizer(n ImageNormalizer) Option {
	return func(c *Controller) { c.normalizer = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller. Call Load before any mutation.
func New(store Store, evaluator Evaluator, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		evaluator: evaluator,
		logger:    slog.Default(),
		key:       DefaultKey,
		newID:     uuid.NewString,
		now:       time.Now,
		doc:       model.NewDocument(),
		loadDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the document from the store exactly once. A missing record
// starts an empty document. A failed load also starts an empty document so
// the application is usable; the error is still returned, wrapped in ErrStore.
// Later calls wait for the first load to finish and return its result, or
// ctx.Err() if ctx ends first.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.loadStarted {
		c.mu.Unlock()
		select {
		case <-c.loadDone:
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.loadErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.loadStarted = true
	c.mu.Unlock()

	doc, err := c.store.Load(ctx, c.key)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.loadDone)
	switch {
	case err != nil:
		c.logger.Error("failed to load document, starting empty", "key", c.key, "error", err)
		c.doc = model.NewDocument()
		err = fmt.Errorf("%w: load %s: %w", ErrStore, c.key, err)
	case doc == nil:
		c.logger.Info("no stored document, starting empty", "key", c.key)
		c.doc = model.NewDocument()
	default:
		doc.Normalize()
		c.doc = *doc
		c.logger.Info("loaded document", "key", c.key,
			"grades", len(c.doc.Grades), "students", len(c.doc.Students))
	}
	c.loaded = true
	c.loadErr = err
	c.persist = newPersister(c.store, c.key, c.logger)
	return err
}

// mutate applies fn to the document and schedules a save. fn must validate
// before changing anything: an error from fn means nothing changed.
func (c *Controller) mutate(fn func(doc *model.Document) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	if err := fn(&c.doc); err != nil {
		return err
	}
	c.persist.request(c.doc.Clone())
	return nil
}

// AddGrade appends a new grade and returns its id.
func (c *Controller) AddGrade(name string) (string, error) {
	name = strings.TrimSpace(name)
	var id string
	err := c.mutate(func(doc *model.Document) error {
		if name == "" {
			return fmt.Errorf("%w: grade name is empty", ErrValidation)
		}
		id = c.newID()
		doc.Grades = append(doc.Grades, model.Grade{ID: id, Name: name})
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("grade added", "grade_id", id, "name", name)
	return id, nil
}

// AddStudent appends a new student, with no work image, to an existing grade.
func (c *Controller) AddStudent(name, gradeID string) (string, error) {
	name = strings.TrimSpace(name)
	var id string
	err := c.mutate(func(doc *model.Document) error {
		if name == "" {
			return fmt.Errorf("%w: student name is empty", ErrValidation)
		}
		if _, ok := doc.FindGrade(gradeID); !ok {
			return fmt.Errorf("%w: unknown grade %q", ErrValidation, gradeID)
		}
		id = c.newID()
		doc.Students = append(doc.Students, model.Student{ID: id, Name: name, GradeID: gradeID})
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("student added", "student_id", id, "grade_id", gradeID)
	return id, nil
}

// AttachImage sets a student's work image and clears any evaluation,
// whatever state the student was in.
func (c *Controller) AttachImage(studentID string, img model.EncodedImage) error {
	if _, _, err := img.Decode(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return c.mutate(func(doc *model.Document) error {
		i := doc.StudentIndex(studentID)
		if i < 0 {
			return fmt.Errorf("%w: unknown student %q", ErrValidation, studentID)
		}
		doc.Students[i].WorkImage = img
		doc.Students[i].Evaluation = nil
		return nil
	})
}

// AttachImageBytes normalizes an uploaded file and attaches it.
func (c *Controller) AttachImageBytes(studentID string, data []byte) error {
	if c.normalizer == nil {
		return errors.New("no image normalizer configured")
	}
	img, err := c.normalizer.Normalize(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return c.AttachImage(studentID, img)
}

// RunAnalysis evaluates the student's current work image. It is a no-op
// returning ErrBusy while another analysis is in flight, and ErrNoImage when
// the student has nothing to analyze. The busy flag is released on every
// exit path. On failure the student keeps its image and stays unevaluated.
func (c *Controller) RunAnalysis(ctx context.Context, studentID string) (eval *model.Evaluation, err error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return nil, ErrNotLoaded
	}
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	i := c.doc.StudentIndex(studentID)
	if i < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown student %q", ErrValidation, studentID)
	}
	student := c.doc.Students[i]
	if student.WorkImage == "" {
		c.mu.Unlock()
		return nil, ErrNoImage
	}
	gradeLabel := c.defaultGradeLabel
	if g, ok := c.doc.FindGrade(student.GradeID); ok {
		gradeLabel = g.Name
	}
	referenceText := c.doc.ReferenceText
	c.busy, c.analyzing = true, studentID
	c.mu.Unlock()

	c.logger.Info("analysis started", "student_id", studentID, "grade", gradeLabel)
	defer func() {
		eval, err = c.finishAnalysis(studentID, student.WorkImage, eval, err)
	}()
	return c.evaluator.EvaluateWork(ctx, student.WorkImage, gradeLabel, referenceText)
}

// finishAnalysis releases the busy flag and merges a successful result into
// the student, provided the student still holds the analyzed image.
func (c *Controller) finishAnalysis(studentID string, img model.EncodedImage, eval *model.Evaluation, err error) (*model.Evaluation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy, c.analyzing = false, ""

	if err == nil && eval == nil {
		err = errors.New("evaluator returned no result")
	}
	if err != nil {
		if !errors.Is(err, ErrAnalysisFailed) {
			err = fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
		}
		c.logger.Warn("analysis failed", "student_id", studentID, "error", err)
		return nil, err
	}

	i := c.doc.StudentIndex(studentID)
	if i < 0 || c.doc.Students[i].WorkImage != img {
		c.logger.Warn("discarding analysis for replaced image", "student_id", studentID)
		return nil, ErrStaleResult
	}
	c.doc.Students[i].Evaluation = eval.Clone()
	c.persist.request(c.doc.Clone())
	c.logger.Info("analysis finished", "student_id", studentID, "overall", model.FormatScore(eval.OverallScore))
	return eval.Clone(), nil
}

// SetReferenceText replaces the reference text used by every analysis.
func (c *Controller) SetReferenceText(text string) error {
	return c.mutate(func(doc *model.Document) error {
		doc.ReferenceText = text
		return nil
	})
}

// SelectTheme sets the current theme id. A blank id selects the default
// theme. An id that names no built-in theme is rejected with ErrValidation
// and the current theme is kept.
func (c *Controller) SelectTheme(themeID string) error {
	themeID = strings.TrimSpace(themeID)
	if themeID == "" {
		themeID = model.DefaultThemeID
	}
	return c.mutate(func(doc *model.Document) error {
		if _, ok := model.FindTheme(themeID); !ok {
			return fmt.Errorf("%w: unknown theme %q", ErrValidation, themeID)
		}
		doc.CurrentThemeID = themeID
		return nil
	})
}

// SaveReport stores a snapshot of an evaluated student and returns its id.
func (c *Controller) SaveReport(studentID string) (string, error) {
	var id string
	err := c.mutate(func(doc *model.Document) error {
		i := doc.StudentIndex(studentID)
		if i < 0 {
			return fmt.Errorf("%w: unknown student %q", ErrValidation, studentID)
		}
		s := doc.Students[i]
		if s.State() != model.StateEvaluated {
			return fmt.Errorf("%w: student %q has no evaluation", ErrValidation, studentID)
		}
		grade, _ := doc.FindGrade(s.GradeID)
		id = c.newID()
		doc.SavedReports = append(doc.SavedReports, model.SavedReport{
			ID:          id,
			StudentName: s.Name,
			GradeName:   grade.Name,
			Timestamp:   c.now().UTC().Format(time.RFC3339),
			Evaluation:  s.Evaluation.Clone(),
			WorkImage:   s.WorkImage,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ComparePlagiarism compares the transcripts of the evaluated students in a
// grade. It does not take the busy flag.
func (c *Controller) ComparePlagiarism(ctx context.Context, gradeID string) (string, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return "", ErrNotLoaded
	}
	grade, ok := c.doc.FindGrade(gradeID)
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: unknown grade %q", ErrValidation, gradeID)
	}
	snapshot := c.doc.Clone()
	students := snapshot.StudentsInGrade(gradeID)
	c.mu.Unlock()

	return c.evaluator.ComparePlagiarism(ctx, students, grade.Name)
}

// Snapshot returns a deep copy of the current document.
func (c *Controller) Snapshot() model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Clone()
}

// Student returns a copy of the student with the given id.
func (c *Controller) Student(id string) (model.Student, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.doc.StudentIndex(id)
	if i < 0 {
		return model.Student{}, false
	}
	s := c.doc.Students[i]
	s.Evaluation = s.Evaluation.Clone()
	return s, true
}

// Grade returns the grade with the given id.
func (c *Controller) Grade(id string) (model.Grade, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.FindGrade(id)
}

// StudentState reports the lifecycle state of a student, including Analyzing.
func (c *Controller) StudentState(id string) (model.StudentState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.doc.StudentIndex(id)
	if i < 0 {
		return "", false
	}
	if c.busy && c.analyzing == id {
		return model.StateAnalyzing, true
	}
	return c.doc.Students[i].State(), true
}

// State returns a deep copy of the document together with the busy flag
// and the id of the student being analyzed, all read under one lock.
func (c *Controller) State() (doc model.Document, busy bool, analyzing string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Clone(), c.busy, c.analyzing
}

// Busy reports whether an analysis is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Analyzing returns the id of the student being analyzed, or "".
func (c *Controller) Analyzing() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analyzing
}

// Loaded reports whether Load has completed.
func (c *Controller) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// LastSaveError returns the result of the most recent save.
func (c *Controller) LastSaveError() error {
	p := c.persister()
	if p == nil {
		return nil
	}
	return p.lastError()
}

// Flush waits until every change so far has been written and returns the
// result of the last save.
func (c *Controller) Flush() error {
	p := c.persister()
	if p == nil {
		return nil
	}
	if err := p.flush(); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStore, c.key, err)
	}
	return nil
}

// Close flushes pending changes and stops the background writer.
func (c *Controller) Close() error {
	p := c.persister()
	if p == nil {
		return nil
	}
	if err := p.close(); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrStore, c.key, err)
	}
	return nil
}

func (c *Controller) persister() *persister {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persist
}
