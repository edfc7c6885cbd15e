package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = []string{"-paths", "400", "-steps", "5", "-seed", "7"}

func TestRunPricesAndSaves(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.txt")
	var stdout, stderr bytes.Buffer

	code := run(append(fast, "-out", out), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	s := stdout.String()
	assert.Contains(t, s, "SABR Bermudan Option Pricing")
	assert.Contains(t, s, "Option Price: ")
	assert.Contains(t, s, "95% Confidence Interval: [")
	assert.Contains(t, s, "Number of paths = 400")
	assert.Contains(t, s, "Pricing complete!")

	saved, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "RESULTS")
	assert.NotContains(t, string(saved), "Pricing complete!")
}

func TestRunIsDeterministic(t *testing.T) {
	var a, b, stderr bytes.Buffer
	require.Equal(t, 0, run(fast, &a, &stderr))
	require.Equal(t, 0, run(fast, &b, &stderr))
	assert.Equal(t, a.String(), b.String())
}

func TestRunConvergence(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(append(fast, "-convergence", "-convergence-paths", "200,800"), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	s := stdout.String()
	assert.Contains(t, s, "Convergence Analysis:")
	assert.Contains(t, s, "\n200\t\t")
	assert.Contains(t, s, "\n800\t\t")
}

func TestRunPut(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(append(fast, "-type", "put", "-dates", "1"), &stdout, &stderr), stderr.String())
	assert.Contains(t, stdout.String(), "Type = PUT")
}

func TestRunRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"unknown flag":    {"-gamma", "1"},
		"beta range":      {"-beta", "1.5"},
		"bad dates":       {"-dates", "0.5,x"},
		"unordered dates": {"-dates", "1,0.5"},
		"option type":     {"-type", "straddle"},
		"zero paths":      {"-paths", "0"},
		"bad counts":      {"-convergence-paths", "10,a"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, 2, run(args, &stdout, &stderr))
			assert.NotEmpty(t, strings.TrimSpace(stderr.String()))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-h"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "-convergence")
}
