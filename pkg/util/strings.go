package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ParseFloats splits a comma separated list such as "0.25, 0.5,1".
// Empty items are skipped.
func ParseFloats(s string) ([]float64, error) {
	var out []float64
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", item, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseInts is ParseFloats for integers.
func ParseInts(s string) ([]int, error) {
	var out []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", item, err)
		}
		out = append(out, v)
	}
	return out, nil
}
