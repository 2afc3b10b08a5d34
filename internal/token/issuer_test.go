package token

import "testing"

func TestIssueUnique(t *testing.T) {
	iss := NewIssuer()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := iss.Issue()
		if tok == "" {
			t.Fatal("empty token")
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d issues: %s", i, tok)
		}
		seen[tok] = true
	}
}
