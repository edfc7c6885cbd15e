// Command bermudan prices one Bermudan option under SABR with
// Longstaff-Schwartz Monte Carlo and prints the results block.
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
	"SabrLSM/internal/report"
	"SabrLSM/pkg/config"
	xutil "SabrLSM/pkg/util"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.Default().Pricing

	fs := flag.NewFlagSet("bermudan", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var pf cli.PricingFlags
	pf.Register(fs, defaults)
	convergence := fs.Bool("convergence", false, "also run the convergence study")
	counts := fs.String("convergence-paths", "1000,5000,10000,50000", "comma-separated path counts for -convergence")
	out := fs.String("out", "", "save the results block to this file")

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
	pathCounts, err := xutil.ParseInts(*counts)
	if err != nil {
		fmt.Fprintf(stderr, "-convergence-paths: %v\n", err)
		return 2
	}

	uc, err := cli.NewUseCase(defaults, in, pf.LogLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "setup: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cli.Banner(stdout, "SABR Bermudan Option Pricing", "Longstaff-Schwartz Monte Carlo Method")
	res, err := uc.Price(ctx, in)
	if err != nil {
		fmt.Fprintf(stderr, "pricing failed: %v\n", err)
		return 1
	}
	if err := report.WriteText(stdout, res); err != nil {
		fmt.Fprintf(stderr, "write results: %v\n", err)
		return 1
	}

	if *convergence {
		fmt.Fprintln(stdout)
		study, err := uc.Convergence(ctx, in, pathCounts)
		if err != nil {
			fmt.Fprintf(stderr, "convergence failed: %v\n", err)
			return 1
		}
		if err := report.WriteConvergence(stdout, study); err != nil {
			fmt.Fprintf(stderr, "write convergence: %v\n", err)
			return 1
		}
	}

	if *out != "" {
		if err := report.SaveToFile(*out, res); err != nil {
			fmt.Fprintf(stderr, "save results: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "\nResults saved to %s\n", *out)
	}
	fmt.Fprintln(stdout, "\nPricing complete!")
	return 0
}
