package models

import "time"

// PricingDefaults fills request fields the caller left out. They come from
// the pricing section of the service config.
type PricingDefaults struct {
	Degree         int
	NPaths         int
	Seed           uint64
	StepsPerPeriod int
}

// PriceRequest is the body of POST /api/price and of pricing.requests
// messages. Pointer fields distinguish an explicit zero from "not sent".
type PriceRequest struct {
	F0             float64   `json:"f0" default:"100" validate:"gt=0"`
	Alpha0         float64   `json:"alpha0" default:"0.2" validate:"gt=0"`
	Beta           *float64  `json:"beta" default:"0.5" validate:"required,gte=0,lte=1"`
	Nu             *float64  `json:"nu" default:"0.4" validate:"required,gte=0"`
	Rho            *float64  `json:"rho" default:"-0.3" validate:"required,gte=-1,lte=1"`
	Strike         float64   `json:"strike" default:"100" validate:"gt=0"`
	ExerciseDates  []float64 `json:"exercise_dates" default:"[0.25,0.5,0.75,1]" validate:"min=1,max=520,dive,gt=0"`
	OptionType     string    `json:"option_type" default:"CALL" validate:"oneof=CALL PUT call put"`
	Rate           *float64  `json:"rate" default:"0.05" validate:"required"`
	Degree         *int      `json:"degree" validate:"omitempty,gte=0,lte=10"`
	NPaths         int       `json:"n_paths" validate:"gte=0"`
	Seed           *uint64   `json:"seed"`
	StepsPerPeriod int       `json:"steps_per_period" validate:"gte=0,lte=1000"`
}

// Inputs resolves the request against d. Call it after defaults and
// validation have run so the pointer fields are set.
func (r PriceRequest) Inputs(d PricingDefaults) (PricingInputs, error) {
	typ, err := ParseOptionType(r.OptionType)
	if err != nil {
		return PricingInputs{}, err
	}
	in := PricingInputs{
		Model: ModelParameters{
			F0:     r.F0,
			Alpha0: r.Alpha0,
			Beta:   deref(r.Beta, 0.5),
			Nu:     deref(r.Nu, 0.4),
			Rho:    deref(r.Rho, -0.3),
		},
		Schedule: ExerciseSchedule{
			Strike: r.Strike,
			Dates:  append([]float64(nil), r.ExerciseDates...),
			Type:   typ,
		},
		Rate:         deref(r.Rate, 0.05),
		Degree:       deref(r.Degree, d.Degree),
		NPaths:       r.NPaths,
		Seed:         deref(r.Seed, d.Seed),
		StepsPerDate: r.StepsPerPeriod,
	}
	if in.NPaths == 0 {
		in.NPaths = d.NPaths
	}
	if in.StepsPerDate == 0 {
		in.StepsPerDate = d.StepsPerPeriod
	}
	return in, nil
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// ConvergenceRequest reprices one option over increasing path counts.
type ConvergenceRequest struct {
	PriceRequest
	PathCounts []int `json:"path_counts" validate:"omitempty,max=10,dive,gt=0"`
}

// SensitivityRequest sweeps one or more parameters around the base
// request. An empty list runs every sweep.
type SensitivityRequest struct {
	PriceRequest
	Parameters []string `json:"parameters" validate:"omitempty,max=4,dive,oneof=beta nu rho strike"`
}

// Sweeps returns the requested sweeps in report order.
func (r SensitivityRequest) Sweeps() []SweepKind {
	if len(r.Parameters) == 0 {
		return AllSweeps
	}
	want := make(map[SweepKind]bool, len(r.Parameters))
	for _, p := range r.Parameters {
		want[SweepKind(p)] = true
	}
	out := make([]SweepKind, 0, len(want))
	for _, k := range AllSweeps {
		if want[k] {
			out = append(out, k)
		}
	}
	return out
}

// SensitivityJob is the payload of a queued sensitivity.sweep job.
type SensitivityJob struct {
	JobID   string             `json:"job_id"`
	Request SensitivityRequest `json:"request"`
}

// JobAccepted is returned by POST /api/jobs/sensitivity.
type JobAccepted struct {
	JobID string `json:"job_id"`
	Type  string `json:"type"`
}

// RunsQuery filters GET /api/runs.
type RunsQuery struct {
	Kind  string
	From  time.Time
	To    time.Time
	Limit int
}
