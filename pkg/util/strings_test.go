package util

import (
	"reflect"
	"testing"
)

func TestParseFloats(t *testing.T) {
	got, err := ParseFloats(" 0.25, 0.5,,1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []float64{0.25, 0.5, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if _, err := ParseFloats("0.5,abc"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseInts(t *testing.T) {
	got, err := ParseInts("1000,5000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []int{1000, 5000}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("42", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
}
