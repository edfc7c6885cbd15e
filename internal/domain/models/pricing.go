package models

import (
	"fmt"
	"strings"
	"time"
)

// OptionType tags the payoff of a Bermudan option.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// ParseOptionType accepts "call"/"put" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch OptionType(strings.ToUpper(strings.TrimSpace(s))) {
	case Call:
		return Call, nil
	case Put:
		return Put, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

// ModelParameters describes the SABR dynamics.
type ModelParameters struct {
	F0     float64 `json:"f0"`     // initial forward
	Alpha0 float64 `json:"alpha0"` // initial volatility
	Beta   float64 `json:"beta"`   // backbone exponent, [0,1]
	Nu     float64 `json:"nu"`     // vol-of-vol
	Rho    float64 `json:"rho"`    // Brownian correlation, [-1,1]
}

// ExerciseSchedule holds the strike, the strictly increasing exercise times
// and the payoff type. The last date is the maturity.
type ExerciseSchedule struct {
	Strike float64    `json:"strike"`
	Dates  []float64  `json:"dates"`
	Type   OptionType `json:"type"`
}

// Maturity returns the last exercise time, or 0 for an empty schedule.
func (s ExerciseSchedule) Maturity() float64 {
	if len(s.Dates) == 0 {
		return 0
	}
	return s.Dates[len(s.Dates)-1]
}

// ExerciseStat summarises early exercise at one date.
type ExerciseStat struct {
	Time      float64  `json:"time"`
	Step      int      `json:"step"`
	Exercised int      `json:"exercised"`
	Boundary  *float64 `json:"boundary,omitempty"` // critical forward, nil when nothing exercised
}

// PricingEstimate is the Monte Carlo estimator of one pricing call.
type PricingEstimate struct {
	Price         float64        `json:"price"`
	StandardError float64        `json:"standard_error"`
	Exercise      []ExerciseStat `json:"exercise,omitempty"`
}

// ConfidenceInterval returns the 95% normal interval around the price.
func (e PricingEstimate) ConfidenceInterval() (lo, hi float64) {
	const z95 = 1.96
	return e.Price - z95*e.StandardError, e.Price + z95*e.StandardError
}

// PricingInputs groups everything needed to reproduce a run.
type PricingInputs struct {
	Model        ModelParameters  `json:"model"`
	Schedule     ExerciseSchedule `json:"schedule"`
	Rate         float64          `json:"rate"`
	Degree       int              `json:"degree"`
	NPaths       int              `json:"n_paths"`
	Seed         uint64           `json:"seed"`
	StepsPerDate int              `json:"steps_per_period"`
}

// PricingResult is the record produced for each priced request.
type PricingResult struct {
	RunID     string          `json:"run_id"`
	Inputs    PricingInputs   `json:"inputs"`
	Estimate  PricingEstimate `json:"estimate"`
	CILow     float64         `json:"ci_low"`
	CIHigh    float64         `json:"ci_high"`
	Elapsed   time.Duration   `json:"elapsed_ns"`
	CreatedAt time.Time       `json:"created_at"`
	Cached    bool            `json:"cached"`
}

// ConvergencePoint is one row of a path-count convergence study.
type ConvergencePoint struct {
	NPaths        int     `json:"n_paths"`
	Price         float64 `json:"price"`
	StandardError float64 `json:"standard_error"`
}

// ConvergenceStudy is the output of repeated pricing over path counts.
type ConvergenceStudy struct {
	RunID  string             `json:"run_id"`
	Inputs PricingInputs      `json:"inputs"`
	Points []ConvergencePoint `json:"points"`
}

// SweepKind names the parameter varied by a sensitivity sweep.
type SweepKind string

const (
	SweepBeta   SweepKind = "beta"
	SweepNu     SweepKind = "nu"
	SweepRho    SweepKind = "rho"
	SweepStrike SweepKind = "strike"
)

// AllSweeps lists the sweeps in report order.
var AllSweeps = []SweepKind{SweepBeta, SweepNu, SweepRho, SweepStrike}

// SensitivityPoint is one priced point of a sweep.
type SensitivityPoint struct {
	Parameter     SweepKind `json:"parameter"`
	Value         float64   `json:"value"`
	Label         string    `json:"label,omitempty"` // ITM/ATM/OTM for strike sweeps
	Price         float64   `json:"price"`
	StandardError float64   `json:"standard_error"`
}

// SensitivitySweep collects the points of one sweep.
type SensitivitySweep struct {
	RunID     string             `json:"run_id"`
	Parameter SweepKind          `json:"parameter"`
	Inputs    PricingInputs      `json:"inputs"`
	Points    []SensitivityPoint `json:"points"`
}

// RunRecord is a persisted pricing run as read back from storage.
type RunRecord struct {
	RunID         string    `json:"run_id"`
	Kind          string    `json:"kind"`
	OptionType    string    `json:"option_type"`
	Strike        float64   `json:"strike"`
	NPaths        int       `json:"n_paths"`
	Price         float64   `json:"price"`
	StandardError float64   `json:"standard_error"`
	Parameter     string    `json:"parameter,omitempty"` // swept parameter for sensitivity rows
	Value         float64   `json:"value,omitempty"`
	Label         string    `json:"label,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Run kinds stored in the history.
const (
	KindPrice       = "price"
	KindConvergence = "convergence"
	KindSensitivity = "sensitivity"
)
