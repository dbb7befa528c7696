package util

import (
	"strings"
	"testing"
)

func TestMaskToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ab", "ab"},
		{"abc", "a...c"},
		{"abcde", "ab...de"},
		{"strm_1a2b3c4d5e6f", "strm...5e6f"},
	}
	for _, tc := range cases {
		if got := MaskToken(tc.in); got != tc.want {
			t.Fatalf("MaskToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	masked := MaskToken("strm_super_secret_token_value")
	if strings.Contains(masked, "secret") {
		t.Fatalf("mask leaked middle of token: %q", masked)
	}
}
