package report

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SabrLSM/internal/domain/models"
)

func TestFixed(t *testing.T) {
	cases := map[float64]string{
		1.23456: "1.2346",
		0.00005: "0.0000", // half to even
		0.00015: "0.0002",
		-2.5:    "-2.5000",
		8:       "8.0000",
	}
	for in, want := range cases {
		assert.Equal(t, want, Fixed(in), "Fixed(%v)", in)
	}
	assert.Equal(t, "NaN", Fixed(math.NaN()))
	assert.Equal(t, "+Inf", Fixed(math.Inf(1)))
}

func TestSummary(t *testing.T) {
	got := Summary(models.PricingEstimate{Price: 5.123449, StandardError: 0.07})
	assert.Equal(t, "Price: 5.1234, StdErr: 0.0700", got)
}

func sampleResult() *models.PricingResult {
	boundary := 112.5
	est := models.PricingEstimate{
		Price:         5.4321,
		StandardError: 0.0712,
		Exercise: []models.ExerciseStat{
			{Time: 0.25, Step: 25, Exercised: 0},
			{Time: 0.5, Step: 50, Exercised: 310, Boundary: &boundary},
		},
	}
	lo, hi := est.ConfidenceInterval()
	return &models.PricingResult{
		Inputs: models.PricingInputs{
			Model:        models.ModelParameters{F0: 100, Alpha0: 0.2, Beta: 0.5, Nu: 0.4, Rho: -0.3},
			Schedule:     models.ExerciseSchedule{Strike: 100, Dates: []float64{0.25, 0.5, 0.75, 1}, Type: models.Call},
			Rate:         0.05,
			Degree:       3,
			NPaths:       10000,
			Seed:         12345,
			StepsPerDate: 25,
		},
		Estimate: est,
		CILow:    lo,
		CIHigh:   hi,
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult()))
	out := buf.String()

	assert.Contains(t, out, "Exercise dates: 0.25, 0.5, 0.75, 1")
	assert.Contains(t, out, "Option Price: 5.4321")
	assert.Contains(t, out, "Standard Error: 0.0712")
	assert.Contains(t, out, "95% Confidence Interval: [5.2925, 5.5717]")
	assert.Contains(t, out, "0.25\t25\t0\t-\n")
	assert.Contains(t, out, "0.5\t50\t310\t112.5000\n")
}

func TestWriteConvergence(t *testing.T) {
	var buf bytes.Buffer
	study := &models.ConvergenceStudy{Points: []models.ConvergencePoint{
		{NPaths: 1000, Price: 5.5, StandardError: 0.2},
		{NPaths: 5000, Price: 5.45, StandardError: 0.09},
	}}
	require.NoError(t, WriteConvergence(&buf, study))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "1000\t\t5.5000\t\t0.2000", lines[3])
}

func TestWriteSensitivity(t *testing.T) {
	var buf bytes.Buffer
	sweeps := []*models.SensitivitySweep{
		{Parameter: models.SweepNu, Points: []models.SensitivityPoint{{Parameter: models.SweepNu, Value: 0.1, Price: 4, StandardError: 0.05}}},
		{Parameter: models.SweepStrike, Points: []models.SensitivityPoint{{Parameter: models.SweepStrike, Value: 90, Label: "ITM", Price: 12, StandardError: 0.1}}},
	}
	require.NoError(t, WriteSensitivity(&buf, sweeps))
	out := buf.String()
	assert.Contains(t, out, "NU SENSITIVITY\nNu\tPrice\tStdError\n0.1\t4.0000\t0.0500\n")
	assert.Contains(t, out, "STRIKE SENSITIVITY\nStrike\tMoneyness\tPrice\tStdError\n90\tITM\t12.0000\t0.1000\n")

	err := WriteSensitivity(&buf, []*models.SensitivitySweep{{Parameter: "gamma"}})
	assert.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteTextReportsWriteError(t *testing.T) {
	assert.EqualError(t, WriteText(failingWriter{}, sampleResult()), "disk full")
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.txt")
	require.NoError(t, SaveToFile(path, sampleResult()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult()))
	assert.Equal(t, buf.String(), string(b))

	assert.Error(t, SaveToFile(filepath.Join(t.TempDir(), "missing", "x.txt"), sampleResult()))
}
