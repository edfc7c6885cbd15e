// Command sensitivity reprices a base Bermudan option over the beta, nu,
// rho and strike grids and writes the tables to a file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"SabrLSM/internal/cli"
	"SabrLSM/internal/domain/models"
	"SabrLSM/internal/report"
	"SabrLSM/pkg/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.Default().Pricing

	fs := flag.NewFlagSet("sensitivity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pf cli.PricingFlags
	pf.Register(fs, defaults)
	out := fs.String("out", "sensitivity_results.txt", "results file, empty to skip")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	in, err := pf.Inputs()
	if err != nil {
		fmt.Fprintf(stderr, "invalid parameters: %v\n", err)
		return 2
	}
	uc, err := cli.NewUseCase(defaults, in, pf.LogLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli.Banner(stdout, "SABR Parameter Sensitivity Analysis")
	sweeps, err := uc.Sweeps(ctx, in, models.AllSweeps, "")
	if err != nil {
		fmt.Fprintf(stderr, "sensitivity failed: %v\n", err)
		return 1
	}
	if err := report.WriteSensitivity(stdout, sweeps); err != nil {
		fmt.Fprintf(stderr, "write results: %v\n", err)
		return 1
	}

	if *out != "" {
		if err := report.SaveSensitivity(*out, sweeps); err != nil {
			fmt.Fprintf(stderr, "save results: %v\n", err)
			return 1
		}
		cli.Banner(stdout, "Analysis complete!", "Results saved to "+*out)
		return 0
	}
	cli.Banner(stdout, "Analysis complete!")
	return 0
}
