package referral

import (
	"strings"
	"testing"
)

func TestGenerate_Format(t *testing.T) {
	code := Generate("alice")

	if !strings.HasPrefix(code, "ALICE") {
		t.Fatalf("code %q must start with uppercased username", code)
	}
	if len(code) != len("ALICE")+suffixLength {
		t.Fatalf("code length = %d, want %d", len(code), len("ALICE")+suffixLength)
	}
	for _, c := range code[len("ALICE"):] {
		if !strings.ContainsRune(alphabet, c) {
			t.Fatalf("suffix char %q not in base36 alphabet", c)
		}
	}
}

func TestGenerate_Varies(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[Generate("bob")] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected varying suffixes, got %d distinct codes", len(seen))
	}
}
