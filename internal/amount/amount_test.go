package amount

import (
	"errors"
	"math/big"
	"testing"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		value    string
		decimals uint32
		want     string
	}{
		{"123456789", 7, "12.3456789"},
		{"100000000", 7, "10"},
		{"0", 7, "0"},
		{"-123456789", 7, "-12.3456789"},
		{"1", 7, "0.0000001"},
		{"42", 0, "42"},
		{"170141183460469231731687303715884105727", 7, "17014118346046923173168730371588.4105727"},
	}

	for _, tc := range cases {
		v, ok := new(big.Int).SetString(tc.value, 10)
		if !ok {
			t.Fatalf("bad test value %q", tc.value)
		}
		if got := Format(v, tc.decimals); got != tc.want {
			t.Fatalf("Format(%s, %d) = %q, want %q", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		input    string
		decimals uint32
		want     string
	}{
		{"12.3456789", 7, "123456789"},
		{"12.34567891234", 7, "123456789"}, // excess precision truncated, not rounded
		{"", 7, "0"},
		{"  10 ", 7, "100000000"},
		{"-0.00", 2, "0"},
		{"-1.5", 2, "-150"},
		{".5", 1, "5"},
		{"7.", 0, "7"},
		{"0.999999999", 7, "9999999"},
	}

	for _, tc := range cases {
		got, err := Parse(tc.input, tc.decimals)
		if err != nil {
			t.Fatalf("Parse(%q, %d): %v", tc.input, tc.decimals, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q, %d) = %s, want %s", tc.input, tc.decimals, got, tc.want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"abc", "1.2.3", "1,5", "1e7", "12-", "0x10"} {
		if _, err := Parse(input, 7); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidAmount", input, err)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	values := []int64{0, 1, 7, 999, 1_0000000, 123456789, 987654321012345678}
	for d := uint32(0); d <= 18; d++ {
		for _, raw := range values {
			v := big.NewInt(raw)
			back, err := Parse(Format(v, d), d)
			if err != nil {
				t.Fatalf("round trip %d at %d decimals: %v", raw, d, err)
			}
			if back.Cmp(v) != 0 {
				t.Fatalf("round trip %d at %d decimals: got %s", raw, d, back)
			}
		}
	}
}

func TestShorten(t *testing.T) {
	if got := Shorten("", 4); got != "" {
		t.Fatalf("Shorten empty = %q", got)
	}
	if got := Shorten("GABCDEFGHIJKLMNOP", 4); got != "GABC...MNOP" {
		t.Fatalf("Shorten = %q", got)
	}
	if got := Shorten("short", 4); got != "short" {
		t.Fatalf("Shorten short id = %q", got)
	}
}
