package editor

import (
	"strings"
	"testing"
)

func TestFormulaValidator_Validate(t *testing.T) {
	v := NewFormulaValidator()

	tests := []struct {
		name      string
		formula   string
		wantValid bool
		wantIssue string
	}{
		{"simple", `x^2 + 1`, true, ""},
		{"fraction", `\frac{a}{b}`, true, ""},
		{"escaped braces are literal", `\left\{ x \right\}`, true, ""},
		{"unclosed brace", `\frac{a}{b`, false, "unbalanced braces"},
		{"stray closing brace", `a}`, false, "unexpected closing brace"},
		{"left without right", `\left( x`, false, `\left/\right`},
		{"leftarrow is not a delimiter", `a \leftarrow b`, true, ""},
		{"matched environment", "\\begin{aligned}\na &= b\n\\end{aligned}", true, ""},
		{"mismatched environment", `\begin{matrix} a \end{pmatrix}`, false, "mismatched environment"},
		{"unclosed environment", `\begin{cases} a`, false, "unclosed environments"},
		{"comment ignored", "a % {\nb", true, ""},
		{"garbled text", "x 锟斤拷", false, "encoding"},
		{"stray dollar warns", `x $ y`, true, "unescaped $"},
		{"bracket imbalance warns", `[a, b)`, true, "square brackets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.formula)
			if got.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (issues: %+v)", got.Valid, tt.wantValid, got.Issues)
			}
			if tt.wantIssue == "" {
				if tt.wantValid && len(got.Issues) != 0 {
					t.Errorf("expected no issues, got %+v", got.Issues)
				}
				return
			}
			found := false
			for _, issue := range got.Issues {
				if strings.Contains(issue.Message, tt.wantIssue) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected issue containing %q, got %+v", tt.wantIssue, got.Issues)
			}
		})
	}
}

func TestFormulaCheck_Summary(t *testing.T) {
	v := NewFormulaValidator()
	if s := v.Validate("x").Summary(); s != "no issues" {
		t.Errorf("Summary() = %q", s)
	}
	if s := v.Validate("{[").Summary(); s != "1 errors, 1 warnings" {
		t.Errorf("Summary() = %q", s)
	}
}
