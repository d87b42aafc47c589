package reports

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jung-kurt/gofpdf"

	"appraisal/internal/domain/directory"
	"appraisal/internal/domain/evaluation"
)

// Row is one evaluatee's flattened result for a single stage.
type Row struct {
	EvaluationID string             `json:"evaluationId"`
	EvaluateeID  string             `json:"evaluateeId"`
	Evaluatee    string             `json:"evaluatee"`
	Department   string             `json:"department"`
	Stage        string             `json:"stage"`
	Status       string             `json:"status"`
	TotalScore   float64            `json:"totalScore"`
	Completed    int                `json:"completed"`
	ItemCount    int                `json:"itemCount"`
	Grades       map[string]string  `json:"grades"`
	Scores       map[string]float64 `json:"scores"`
	OverallGrade string             `json:"overallGrade,omitempty"`
}

// PeriodReport aggregates every evaluation of one period.
type PeriodReport struct {
	PeriodID   string  `json:"periodId"`
	PeriodName string  `json:"periodName"`
	Rows       []Row   `json:"rows"`
	Submitted  int     `json:"submitted"`
	Total      int     `json:"total"`
	AvgFinal   float64 `json:"avgFinalScore"`
}

type Service struct {
	evals *evaluation.Service
	dir   *directory.Service
}

func NewService(evals *evaluation.Service, dir *directory.Service) *Service {
	return &Service{evals: evals, dir: dir}
}

// BuildPeriodReport flattens every evaluation of the period into rows.
// Departments may be restricted: an empty set means no restriction, a
// non-empty set keeps only evaluatees from those departments.
func (s *Service) BuildPeriodReport(ctx context.Context, periodID string, departments []string) (PeriodReport, error) {
	period, err := s.evals.GetPeriod(ctx, periodID)
	if err != nil {
		return PeriodReport{}, err
	}
	evals, err := s.evals.ListEvaluations(ctx, evaluation.Filter{PeriodID: periodID})
	if err != nil {
		return PeriodReport{}, err
	}

	allowed := map[string]bool{}
	for _, department := range departments {
		allowed[department] = true
	}

	report := PeriodReport{PeriodID: period.ID, PeriodName: period.Name}
	var finalSum float64
	var finalCount int
	for _, raw := range evals {
		loaded, err := s.evals.Load(ctx, raw.ID)
		if err != nil {
			return PeriodReport{}, fmt.Errorf("load evaluation %s: %w", raw.ID, err)
		}
		user, err := s.dir.GetUserOrPlaceholder(ctx, loaded.EvaluateeID)
		if err != nil {
			return PeriodReport{}, err
		}
		if len(allowed) > 0 && !allowed[user.Department] {
			continue
		}

		row := Row{
			EvaluationID: loaded.ID,
			EvaluateeID:  loaded.EvaluateeID,
			Evaluatee:    user.DisplayName,
			Department:   user.Department,
			Stage:        loaded.Stage,
			Status:       loaded.Status,
			TotalScore:   loaded.TotalScore(),
			Completed:    loaded.CompletionCount(),
			ItemCount:    len(loaded.Items),
			Grades:       map[string]string{},
			Scores:       map[string]float64{},
			OverallGrade: loaded.OverallGrade,
		}
		for _, item := range loaded.Items {
			if item.Grade == "" && item.Comment == "" {
				continue
			}
			row.Grades[item.ItemID] = item.Grade
			row.Scores[item.ItemID] = item.Score
		}
		report.Rows = append(report.Rows, row)

		report.Total++
		if loaded.Status == evaluation.StatusSubmitted {
			report.Submitted++
			if loaded.Stage == evaluation.StageFinal {
				finalSum += row.TotalScore
				finalCount++
			}
		}
	}

	if finalCount > 0 {
		report.AvgFinal = finalSum / float64(finalCount)
	}
	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].Evaluatee == report.Rows[j].Evaluatee {
			return evaluation.StageIndex(report.Rows[i].Stage) < evaluation.StageIndex(report.Rows[j].Stage)
		}
		return report.Rows[i].Evaluatee < report.Rows[j].Evaluatee
	})
	return report, nil
}

// RenderPDF writes a summary PDF of the period report.
func RenderPDF(w io.Writer, report PeriodReport) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(120, 10, "Performance report: "+report.PeriodName)
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Submitted %d of %d evaluations", report.Submitted, report.Total))
	pdf.Ln(7)
	if report.AvgFinal > 0 {
		pdf.Cell(0, 7, fmt.Sprintf("Average final score: %.1f", report.AvgFinal))
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(70, 8, "Evaluatee", "1", 0, "L", false, 0, "")
	pdf.CellFormat(45, 8, "Department", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, "Stage", "1", 0, "L", false, 0, "")
	pdf.CellFormat(35, 8, "Status", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, "Score", "1", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, "Completed", "1", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range report.Rows {
		pdf.CellFormat(70, 7, row.Evaluatee, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 7, row.Department, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 7, evaluation.StageLabels[row.Stage], "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 7, row.Status, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, fmt.Sprintf("%.1f", row.TotalScore), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, fmt.Sprintf("%d/%d", row.Completed, row.ItemCount), "1", 1, "R", false, 0, "")
	}

	return pdf.Output(w)
}
