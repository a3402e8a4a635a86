package model

import "time"

// DocumentExport is the top-level JSON structure written by the export command.
type DocumentExport struct {
	ExportedAt time.Time     `json:"exported_at"`
	StoredAt   *time.Time    `json:"stored_at,omitempty"`
	Key        string        `json:"key"`
	Summary    ExportSummary `json:"summary"`
	Document   Document      `json:"document"`
}

// ExportSummary holds per-grade counts for a quick overview of an export.
type ExportSummary struct {
	Grades    int            `json:"grades"`
	Students  int            `json:"students"`
	Evaluated int            `json:"evaluated"`
	Reports   int            `json:"reports"`
	PerGrade  []GradeSummary `json:"per_grade"`
}

// GradeSummary holds the counts for one grade.
type GradeSummary struct {
	GradeID      string   `json:"grade_id"`
	GradeName    string   `json:"grade_name"`
	Students     int      `json:"students"`
	Evaluated    int      `json:"evaluated"`
	AverageScore *float64 `json:"average_score,omitempty"`
}

// Summarize computes an ExportSummary for d. Unscored evaluations are left
// out of the average.
func Summarize(d Document) ExportSummary {
	sum := ExportSummary{
		Grades:   len(d.Grades),
		Students: len(d.Students),
		Reports:  len(d.SavedReports),
		PerGrade: []GradeSummary{},
	}
	for _, g := range d.Grades {
		gs := GradeSummary{GradeID: g.ID, GradeName: g.Name}
		var total float64
		var scored int
		for _, s := range d.StudentsInGrade(g.ID) {
			gs.Students++
			if s.State() != StateEvaluated {
				continue
			}
			gs.Evaluated++
			if s.Evaluation.OverallScore != nil {
				total += *s.Evaluation.OverallScore
				scored++
			}
		}
		if scored > 0 {
			gs.AverageScore = Score(total / float64(scored))
		}
		sum.Evaluated += gs.Evaluated
		sum.PerGrade = append(sum.PerGrade, gs)
	}
	return sum
}
