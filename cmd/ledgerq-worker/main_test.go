package main

import (
	"errors"
	"testing"
	"time"
)

func TestParseBackoff(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    []time.Duration
		wantErr bool
	}{
		{name: "empty uses defaults", value: "", want: nil},
		{name: "single delay", value: "5s", want: []time.Duration{5 * time.Second}},
		{
			name:  "schedule with spaces",
			value: "5s, 25s, 125s",
			want:  []time.Duration{5 * time.Second, 25 * time.Second, 125 * time.Second},
		},
		{name: "garbage", value: "5s,soon", wantErr: true},
		{name: "zero delay", value: "0s", wantErr: true},
		{name: "negative delay", value: "-5s", wantErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := parseBackoff(test.value)
			if test.wantErr {
				if !errors.Is(err, errInvalidBackoff) {
					t.Fatalf("expected errInvalidBackoff, got %v", err)
				}

				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(test.want) {
				t.Fatalf("expected %d delays, got %d", len(test.want), len(got))
			}
			for i := range got {
				if got[i] != test.want[i] {
					t.Fatalf("delay %d: expected %s, got %s", i, test.want[i], got[i])
				}
			}
		})
	}
}

func TestFormatArgs(t *testing.T) {
	if got := formatArgs(nil); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
	if got := formatArgs([]any{"key", "value", "n", 3}); got != "key=value n=3" {
		t.Fatalf("unexpected format: %q", got)
	}
	if got := formatArgs([]any{"orphan"}); got != "orphan=<missing>" {
		t.Fatalf("unexpected format: %q", got)
	}
}
