package main

import "testing"

func TestMask(t *testing.T) {
	cases := map[string]string{
		"short":              "*****",
		"r8_abcdefghijklmno": "r8_***********lmno",
	}
	for in, want := range cases {
		if got := mask(in); got != want {
			t.Errorf("mask(%q) = %q, want %q", in, got, want)
		}
	}
}
