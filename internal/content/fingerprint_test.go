package content

import (
	"strings"
	"testing"
)

func TestNormalize_CaseAndWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello world"},
		{"  Hello   World  ", "hello world"},
		{"HELLO\tWORLD\n", "hello world"},
		{"Straße", "strasse"}, // full case folding, not simple lowercasing
		{"", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFingerprint_EquivalentInputsCollide(t *testing.T) {
	a := Fingerprint("Photosynthesis  Basics", "multichoice")
	b := Fingerprint("photosynthesis basics", "MULTICHOICE")
	if a != b {
		t.Fatalf("case/spacing variants should fingerprint identically: %s vs %s", a, b)
	}
}

func TestFingerprint_DifferentInputsDiffer(t *testing.T) {
	a := Fingerprint("topic one", "easy")
	b := Fingerprint("topic one", "hard")
	if a == b {
		t.Fatalf("different inputs collided: %s", a)
	}
}

func TestFingerprint_PartBoundariesMatter(t *testing.T) {
	// "ab" + "c" must not equal "a" + "bc"; the separator keeps parts distinct.
	a := Fingerprint("ab", "c")
	b := Fingerprint("a", "bc")
	if a == b {
		t.Fatalf("part boundaries are ambiguous: %s", a)
	}
}

func TestFingerprint_IsHexSHA256(t *testing.T) {
	fp := Fingerprint("anything")
	if len(fp) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(fp))
	}
	if strings.ToLower(fp) != fp {
		t.Fatalf("expected lowercase hex, got %q", fp)
	}
}
