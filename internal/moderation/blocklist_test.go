package moderation

import "testing"

func TestBlocklist_Scan(t *testing.T) {
	b, err := NewBlocklist([]string{"kill", "terror", "go away forever"})
	if err != nil {
		t.Fatalf("NewBlocklist: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact match", "kill", true, "kill"},
		{"in sentence", "i will kill time", true, "kill"},
		{"case insensitive", "KILL", true, "kill"},
		{"mixed case", "KiLl", true, "kill"},
		{"substring containment", "skills", true, "kill"},
		{"phrase", "please go away forever now", true, "go away forever"},
		{"phrase split", "go away, forever", false, ""},
		{"clean", "hello world", false, ""},
		{"empty", "", false, ""},
		{"unicode around", "ünicode kill ümlaut", true, "kill"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, hit := b.Scan(tt.input)
			if hit != tt.blocked {
				t.Errorf("Scan(%q) hit = %v, want %v", tt.input, hit, tt.blocked)
			}
			if hit && term != tt.term {
				t.Errorf("Scan(%q) term = %q, want %q", tt.input, term, tt.term)
			}
		})
	}
}

func TestBlocklist_NoLeetNormalization(t *testing.T) {
	b, err := NewBlocklist([]string{"kill"})
	if err != nil {
		t.Fatalf("NewBlocklist: %v", err)
	}

	// Pure substring semantics: obfuscated spellings pass. That is the
	// documented contract, not an oversight.
	if _, hit := b.Scan("k1ll"); hit {
		t.Error("Scan(k1ll) matched; matching must be literal substring only")
	}
	if _, hit := b.Scan("k i l l"); hit {
		t.Error("Scan(k i l l) matched; matching must be literal substring only")
	}
}

func TestNewBlocklist_Normalization(t *testing.T) {
	b, err := NewBlocklist([]string{"  Kill ", "kill", "", "  ", "Terror"})
	if err != nil {
		t.Fatalf("NewBlocklist: %v", err)
	}
	terms := b.Terms()
	if len(terms) != 2 {
		t.Fatalf("Terms() = %v, want 2 deduplicated lowercase entries", terms)
	}
}

func TestNewBlocklist_Empty(t *testing.T) {
	if _, err := NewBlocklist(nil); err == nil {
		t.Error("NewBlocklist(nil) returned nil error")
	}
	if _, err := NewBlocklist([]string{"", "  "}); err == nil {
		t.Error("NewBlocklist(blank terms) returned nil error")
	}
}

func TestBlocklist_DefaultTerms(t *testing.T) {
	b, err := NewBlocklist(DefaultTerms)
	if err != nil {
		t.Fatalf("NewBlocklist(DefaultTerms): %v", err)
	}
	for _, term := range DefaultTerms {
		if _, hit := b.Scan("x " + term + " y"); !hit {
			t.Errorf("default term %q not matched", term)
		}
	}
}

func BenchmarkScan(b *testing.B) {
	bl, err := NewBlocklist(DefaultTerms)
	if err != nil {
		b.Fatal(err)
	}
	msg := "hey, how is your day going? mine has been pretty calm so far"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bl.Scan(msg)
	}
}
