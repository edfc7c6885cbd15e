// Package cli holds the flag set and wiring shared by the command-line
// drivers. The drivers run the engine in-process with no backends.
package cli

import (
	"flag"
	"fmt"
	"io"

	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/services/lsm"
	"SabrLSM/internal/usecase"
	"SabrLSM/pkg/config"
	applogger "SabrLSM/pkg/logger"
	xutil "SabrLSM/pkg/util"
)

// PricingFlags are the model, option and pricing parameters common to every
// driver.
type PricingFlags struct {
	F0       float64
	Alpha0   float64
	Beta     float64
	Nu       float64
	Rho      float64
	Strike   float64
	Rate     float64
	Dates    string
	Type     string
	Degree   int
	NPaths   int
	Steps    int
	Seed     uint64
	LogLevel string
}

// Register binds the flags on fs with defaults taken from d.
func (p *PricingFlags) Register(fs *flag.FlagSet, d config.PricingConfig) {
	fs.Float64Var(&p.F0, "f0", 100, "initial forward")
	fs.Float64Var(&p.Alpha0, "alpha0", 0.2, "initial volatility")
	fs.Float64Var(&p.Beta, "beta", 0.5, "backbone exponent in [0,1]")
	fs.Float64Var(&p.Nu, "nu", 0.4, "vol-of-vol")
	fs.Float64Var(&p.Rho, "rho", -0.3, "forward/vol correlation in [-1,1]")
	fs.Float64Var(&p.Strike, "strike", 100, "strike")
	fs.Float64Var(&p.Rate, "rate", 0.05, "risk-free rate")
	fs.StringVar(&p.Dates, "dates", "0.25,0.5,0.75,1", "comma-separated exercise times in years")
	fs.StringVar(&p.Type, "type", "call", "option type: call or put")
	fs.IntVar(&p.Degree, "degree", d.Degree, "regression polynomial degree")
	fs.IntVar(&p.NPaths, "paths", d.NPaths, "number of Monte Carlo paths")
	fs.IntVar(&p.Steps, "steps", d.StepsPerPeriod, "time steps per exercise period")
	fs.Uint64Var(&p.Seed, "seed", d.Seed, "random seed")
	fs.StringVar(&p.LogLevel, "log-level", "warn", "log level: debug, info, warn or error")
}

// Inputs converts the parsed flags into engine inputs and validates them.
func (p *PricingFlags) Inputs() (models.PricingInputs, error) {
	dates, err := xutil.ParseFloats(p.Dates)
	if err != nil {
		return models.PricingInputs{}, fmt.Errorf("-dates: %w", err)
	}
	typ, err := models.ParseOptionType(p.Type)
	if err != nil {
		return models.PricingInputs{}, fmt.Errorf("-type: %w", err)
	}
	in := models.PricingInputs{
		Model:        models.ModelParameters{F0: p.F0, Alpha0: p.Alpha0, Beta: p.Beta, Nu: p.Nu, Rho: p.Rho},
		Schedule:     models.ExerciseSchedule{Strike: p.Strike, Dates: dates, Type: typ},
		Rate:         p.Rate,
		Degree:       p.Degree,
		NPaths:       p.NPaths,
		Seed:         p.Seed,
		StepsPerDate: p.Steps,
	}
	if _, err := lsm.Validate(in); err != nil {
		return models.PricingInputs{}, err
	}
	return in, nil
}

// NewUseCase builds an in-process use case on the engine, logging to w.
func NewUseCase(d config.PricingConfig, in models.PricingInputs, logLevel string, w io.Writer) (*usecase.PricingUseCase, error) {
	l, err := applogger.NewWithWriter(&applogger.Config{Level: logLevel, Format: "console"}, w)
	if err != nil {
		return nil, err
	}
	engine := lsm.NewEngine(lsm.WithStepsPerPeriod(in.StepsPerDate), lsm.WithLogger(l))
	return usecase.NewPricingUseCase(usecase.PricingConfig{
		Defaults: models.PricingDefaults{
			Degree:         in.Degree,
			NPaths:         in.NPaths,
			Seed:           in.Seed,
			StepsPerPeriod: in.StepsPerDate,
		},
		SweepWorkers:     d.SweepWorkers,
		ConvergencePaths: d.ConvergencePaths,
	}, engine, usecase.WithLogger(l)), nil
}

// Banner frames a driver title the way the reports do.
func Banner(w io.Writer, lines ...string) {
	const rule = "========================================"
	fmt.Fprintln(w, rule)
	for _, s := range lines {
		fmt.Fprintln(w, s)
	}
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}
