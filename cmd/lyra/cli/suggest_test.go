// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1}, // substitution
		{"abc", "ab", 1},  // deletion
		{"ab", "abc", 1},  // insertion
		{"abc", "bac", 2}, // transposition (counted as 2 edits)
		{"kitten", "sitting", 3},
		{"verify", "verfy", 1},
		{"status", "staus", 1},
		{"connect", "conect", 1},
	}

	for _, test := range tests {
		got := levenshtein(test.a, test.b)
		if got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestLevenshtein_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"abc", "abd"},
		{"hello", "helo"},
		{"pair", "piar"},
	}

	for _, pair := range pairs {
		forward := levenshtein(pair[0], pair[1])
		reverse := levenshtein(pair[1], pair[0])
		if forward != reverse {
			t.Errorf("levenshtein(%q, %q) = %d, but reverse = %d",
				pair[0], pair[1], forward, reverse)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{
		{Name: "install"},
		{Name: "uninstall"},
		{Name: "verify"},
		{Name: "status"},
		{Name: "pair"},
	}

	tests := []struct {
		input string
		want  string
	}{
		{"verfy", "verify"},
		{"stauts", "status"},
		{"instal", "install"},
		{"pari", "pair"},
		{"completely-different", ""},
	}

	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.Bool("follow", false, "")
		flagSet.String("socket", "", "")
		flagSet.Int("lines", 100, "")
		return flagSet
	}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--folow"}, "--follow"},
		{[]string{"--sokcet=/run/lyra.sock"}, "--socket"},
		{[]string{"--lines", "50"}, ""}, // defined, no suggestion
		{[]string{"positional", "--lnes"}, "--lines"},
		{[]string{"--utterly-wrong"}, ""},
	}

	for _, test := range tests {
		if got := suggestFlag(test.args, makeFlags()); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
