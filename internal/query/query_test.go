package query

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	p := Parse(`Find "Exact Phrase" here, please!`)
	if len(p.Phrases) != 1 || p.Phrases[0] != "exact phrase" {
		t.Errorf("Phrases = %v", p.Phrases)
	}
	want := []string{"find", "here", "please"}
	if strings.Join(p.Terms, ",") != strings.Join(want, ",") {
		t.Errorf("Terms = %v, want %v", p.Terms, want)
	}
	if p.Words != 5 {
		t.Errorf("Words = %d, want 5", p.Words)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		q    string
		want Type
	}{
		{"how to install the agent", TypeProcedural},
		{"steps to configure vpn", TypeProcedural},
		{"what is a service level objective", TypeDefinitional},
		{"definition of churn", TypeDefinitional},
		{"printer not working", TypeTroubleshooting},
		{"how to fix login error", TypeTroubleshooting},
		{"where is the expense policy", TypeLocational},
		{"quarterly revenue", TypeGeneral},
		{"", TypeGeneral},
	}
	for _, tt := range tests {
		if got := Classify(tt.q); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.q, got, tt.want)
		}
	}
}

func TestShouldExpand(t *testing.T) {
	p := NewProcessor(Config{})
	tests := []struct {
		q    string
		want bool
	}{
		{"vpn setup", true},
		{"install", true},
		{`"vpn setup"`, false},
		{`install "agent"`, false},
		{"how do I configure the corporate vpn", false},
		{"one two three four five six seven eight nine", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := p.ShouldExpand(tt.q); got != tt.want {
			t.Errorf("ShouldExpand(%q) = %v, want %v", tt.q, got, tt.want)
		}
	}
}

func TestExpand(t *testing.T) {
	p := NewProcessor(Config{})
	got := p.Expand("install agent", TypeProcedural)
	if !strings.HasPrefix(got, "install agent ") {
		t.Fatalf("original not kept as prefix: %q", got)
	}
	added := strings.Fields(strings.TrimPrefix(got, "install agent "))
	if len(added) == 0 || len(added) > DefaultMaxExpansionTerms {
		t.Fatalf("added %d terms: %v", len(added), added)
	}
	if added[0] != "setup" || added[1] != "installation" {
		t.Errorf("term synonyms should come first: %v", added)
	}
	seen := map[string]bool{"install": true, "agent": true}
	for _, a := range added {
		if seen[a] {
			t.Errorf("duplicate term %q in %q", a, got)
		}
		seen[a] = true
	}
}

func TestExpand_SkipsPresentWords(t *testing.T) {
	p := NewProcessor(Config{MaxExpansionTerms: 10})
	got := p.Expand("error fix", TypeTroubleshooting)
	if strings.Count(got, "error") != 1 || strings.Count(got, "fix") != 1 {
		t.Errorf("present words repeated: %q", got)
	}
}

func TestProcess(t *testing.T) {
	p := NewProcessor(Config{})

	out := p.Process(`  "reset password"  `, true)
	if out.Expanded || out.Effective != `"reset password"` {
		t.Errorf("quoted phrase must not expand: %+v", out)
	}
	if len(out.Phrases) != 1 {
		t.Errorf("Phrases = %v", out.Phrases)
	}

	out = p.Process("password reset", true)
	if !out.Expanded || !strings.HasPrefix(out.Effective, "password reset ") {
		t.Errorf("short query should expand: %+v", out)
	}
	if out.Original != "password reset" {
		t.Errorf("Original = %q", out.Original)
	}

	out = p.Process("password reset", false)
	if out.Expanded || out.Effective != out.Original {
		t.Errorf("disabled expansion changed query: %+v", out)
	}
}
