package app

import (
	"errors"

	"github.com/pavelanni/penmark/internal/llm"
)

var (
	// ErrValidation marks rejected input: blank names, unknown ids, empty images.
	// The operation made no change and nothing was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotLoaded is returned by mutations issued before Load completed.
	ErrNotLoaded = errors.New("document not loaded")
	// ErrBusy is returned when an analysis is already in flight.
	ErrBusy = errors.New("analysis already in progress")
	// ErrNoImage is returned when analysis is requested for a student without a work image.
	ErrNoImage = errors.New("student has no work image")
	// ErrStore wraps load and save failures of the persistent store.
	ErrStore = errors.New("store failure")
	// ErrAnalysisFailed is returned when the evaluation call fails.
	ErrAnalysisFailed = llm.ErrAnalysisFailed
)
