// Package report renders pricing results as fixed-point text for the CLI
// drivers and file dumps.
package report

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"SabrLSM/internal/domain/models"
)

// Places is the number of decimals printed for prices and errors.
const Places = 4

const rule = "========================================"

// Fixed renders v with four decimals, rounding half to even.
func Fixed(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return decimal.NewFromFloat(v).StringFixedBank(Places)
}

func plain(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Summary is the one-line form used in logs and queue results.
func Summary(e models.PricingEstimate) string {
	return fmt.Sprintf("Price: %s, StdErr: %s", Fixed(e.Price), Fixed(e.StandardError))
}

// errWriter keeps the first write error so the render functions can print
// freely and check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, a ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, a...)
}

// WriteText writes the inputs followed by the results block.
func WriteText(w io.Writer, r *models.PricingResult) error {
	ew := &errWriter{w: w}
	in := r.Inputs
	m := in.Model

	ew.printf("Model Parameters:\n")
	ew.printf("  F0 = %s\n  alpha0 = %s\n  beta = %s\n  nu = %s\n  rho = %s\n\n",
		plain(m.F0), plain(m.Alpha0), plain(m.Beta), plain(m.Nu), plain(m.Rho))

	dates := make([]string, len(in.Schedule.Dates))
	for i, d := range in.Schedule.Dates {
		dates[i] = plain(d)
	}
	ew.printf("Option Parameters:\n")
	ew.printf("  Type = %s\n  Strike K = %s\n  Risk-free rate r = %s\n  Exercise dates: %s\n\n",
		in.Schedule.Type, plain(in.Schedule.Strike), plain(in.Rate), strings.Join(dates, ", "))

	ew.printf("Pricing Parameters:\n")
	ew.printf("  Number of paths = %d\n  Steps per period = %d\n  Polynomial degree = %d\n  Seed = %d\n\n",
		in.NPaths, in.StepsPerDate, in.Degree, in.Seed)

	ew.printf("%s\nRESULTS\n%s\n", rule, rule)
	ew.printf("Option Price: %s\n", Fixed(r.Estimate.Price))
	ew.printf("Standard Error: %s\n", Fixed(r.Estimate.StandardError))
	ew.printf("95%% Confidence Interval: [%s, %s]\n", Fixed(r.CILow), Fixed(r.CIHigh))
	ew.printf("%s\n", rule)
	if ew.err != nil {
		return ew.err
	}
	if len(r.Estimate.Exercise) > 0 {
		ew.printf("\n")
		if ew.err != nil {
			return ew.err
		}
		return WriteExercise(w, r.Estimate.Exercise)
	}
	return nil
}

// WriteExercise writes one row per exercise date with the exercised path
// count and the critical forward.
func WriteExercise(w io.Writer, stats []models.ExerciseStat) error {
	ew := &errWriter{w: w}
	ew.printf("Exercise Boundary:\nTime\tStep\tExercised\tBoundary\n")
	for _, s := range stats {
		b := "-"
		if s.Boundary != nil {
			b = Fixed(*s.Boundary)
		}
		ew.printf("%s\t%d\t%d\t%s\n", plain(s.Time), s.Step, s.Exercised, b)
	}
	return ew.err
}

// WriteConvergence writes the path-count table.
func WriteConvergence(w io.Writer, study *models.ConvergenceStudy) error {
	ew := &errWriter{w: w}
	ew.printf("Convergence Analysis:\n")
	ew.printf("N Paths\t\tPrice\t\tStd Error\n")
	ew.printf("-------\t\t-----\t\t---------\n")
	for _, p := range study.Points {
		ew.printf("%d\t\t%s\t\t%s\n", p.NPaths, Fixed(p.Price), Fixed(p.StandardError))
	}
	return ew.err
}

var sweepTitles = map[models.SweepKind]string{
	models.SweepBeta:   "Beta",
	models.SweepNu:     "Nu",
	models.SweepRho:    "Rho",
	models.SweepStrike: "Strike",
}

// WriteSensitivity writes each sweep as a titled, tab-separated block.
func WriteSensitivity(w io.Writer, sweeps []*models.SensitivitySweep) error {
	ew := &errWriter{w: w}
	for _, s := range sweeps {
		title, ok := sweepTitles[s.Parameter]
		if !ok {
			return fmt.Errorf("report: unknown sweep %q", s.Parameter)
		}
		ew.printf("%s SENSITIVITY\n", strings.ToUpper(title))
		if s.Parameter == models.SweepStrike {
			ew.printf("%s\tMoneyness\tPrice\tStdError\n", title)
		} else {
			ew.printf("%s\tPrice\tStdError\n", title)
		}
		for _, p := range s.Points {
			if s.Parameter == models.SweepStrike {
				ew.printf("%s\t%s\t%s\t%s\n", plain(p.Value), p.Label, Fixed(p.Price), Fixed(p.StandardError))
			} else {
				ew.printf("%s\t%s\t%s\n", plain(p.Value), Fixed(p.Price), Fixed(p.StandardError))
			}
		}
		ew.printf("\n")
	}
	return ew.err
}

// SaveToFile writes the results block of r to path.
func SaveToFile(path string, r *models.PricingResult) error {
	return writeFile(path, func(w io.Writer) error { return WriteText(w, r) })
}

// SaveSensitivity writes the sweeps to path.
func SaveSensitivity(path string, sweeps []*models.SensitivitySweep) error {
	return writeFile(path, func(w io.Writer) error { return WriteSensitivity(w, sweeps) })
}

func writeFile(path string, render func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return render(f)
}
