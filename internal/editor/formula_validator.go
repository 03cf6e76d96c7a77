package editor

import (
	"fmt"
	"regexp"
	"strings"

	"formula-corrector/internal/logger"
)

// Issue is one problem found in a formula
type Issue struct {
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Type     string `json:"type"`     // "syntax", "structure", "encoding"
	Severity string `json:"severity"` // "error" or "warning"
}

// FormulaCheck contains the result of formula validation
type FormulaCheck struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// FormulaValidator performs static checks on LaTeX formula bodies
type FormulaValidator struct{}

// NewFormulaValidator creates a new FormulaValidator
func NewFormulaValidator() *FormulaValidator {
	return &FormulaValidator{}
}

var (
	envPattern       = regexp.MustCompile(`\\(begin|end)\{([^}]+)\}`)
	leftRightPattern = regexp.MustCompile(`\\(left|right)([^a-zA-Z]|$)`)
)

// Validate checks brace balance, \left/\right pairing, environment nesting
// and garbled text in formula.
func (v *FormulaValidator) Validate(formula string) *FormulaCheck {
	result := &FormulaCheck{Issues: []Issue{}}

	v.checkBraceBalance(formula, result)
	v.checkLeftRight(formula, result)
	v.checkEnvironments(formula, result)
	v.checkCommonErrors(formula, result)

	result.Valid = true
	for _, issue := range result.Issues {
		if issue.Severity == "error" {
			result.Valid = false
			break
		}
	}

	logger.Debug("formula validated",
		logger.Bool("valid", result.Valid),
		logger.Int("issueCount", len(result.Issues)))
	return result
}

func (r *FormulaCheck) addError(line, col int, typ, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Line: line, Column: col, Message: fmt.Sprintf(format, args...), Type: typ, Severity: "error"})
}

func (r *FormulaCheck) addWarning(line, col int, typ, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Line: line, Column: col, Message: fmt.Sprintf(format, args...), Type: typ, Severity: "warning"})
}

// stripComment drops an unescaped % comment
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] == '%' {
			return line[:i]
		}
	}
	return line
}

// checkBraceBalance counts unescaped braces; \{ and \} are literal delimiters
func (v *FormulaValidator) checkBraceBalance(formula string, result *FormulaCheck) {
	depth := 0
	openSquare, closeSquare := 0, 0

	for lineNum, line := range strings.Split(formula, "\n") {
		line = stripComment(line)
		for i := 0; i < len(line); i++ {
			switch line[i] {
			case '\\':
				i++
			case '{':
				depth++
			case '}':
				depth--
				if depth < 0 {
					result.addError(lineNum+1, i+1, "syntax", "unexpected closing brace '}'")
					depth = 0
				}
			case '[':
				openSquare++
			case ']':
				closeSquare++
			}
		}
	}

	if depth > 0 {
		result.addError(0, 0, "syntax", "unbalanced braces: %d unclosed '{'", depth)
	}
	if openSquare != closeSquare {
		result.addWarning(0, 0, "syntax", "unbalanced square brackets: %d open, %d close", openSquare, closeSquare)
	}
}

func (v *FormulaValidator) checkLeftRight(formula string, result *FormulaCheck) {
	left, right := 0, 0
	for _, m := range leftRightPattern.FindAllStringSubmatch(formula, -1) {
		if m[1] == "left" {
			left++
		} else {
			right++
		}
	}
	if left != right {
		result.addError(0, 0, "structure", "unbalanced \\left/\\right: %d \\left, %d \\right", left, right)
	}
}

// checkEnvironments checks \begin/\end nesting
func (v *FormulaValidator) checkEnvironments(formula string, result *FormulaCheck) {
	var stack []string
	for _, loc := range envPattern.FindAllStringSubmatchIndex(formula, -1) {
		cmd := formula[loc[2]:loc[3]]
		env := formula[loc[4]:loc[5]]
		line := strings.Count(formula[:loc[0]], "\n") + 1

		if cmd == "begin" {
			stack = append(stack, env)
			continue
		}
		if len(stack) == 0 {
			result.addError(line, 0, "structure", "unexpected \\end{%s} without matching \\begin", env)
			continue
		}
		last := stack[len(stack)-1]
		if last != env {
			result.addError(line, 0, "structure", "mismatched environment: \\begin{%s} ... \\end{%s}", last, env)
		}
		stack = stack[:len(stack)-1]
	}

	if len(stack) > 0 {
		result.addError(0, 0, "structure", "unclosed environments: %v", stack)
	}
}

var garbledPatterns = []string{
	"鎮ㄧ殑",
	"锟斤拷",
	"�",
}

// checkCommonErrors flags stray math delimiters and garbled text
func (v *FormulaValidator) checkCommonErrors(formula string, result *FormulaCheck) {
	for lineNum, line := range strings.Split(formula, "\n") {
		line = stripComment(line)

		if strings.Contains(line, "$$") {
			result.addWarning(lineNum+1, strings.Index(line, "$$")+1, "syntax", "display delimiter inside formula body")
		} else if strings.Count(line, "$")-strings.Count(line, `\$`) > 0 {
			result.addWarning(lineNum+1, 0, "syntax", "unescaped $ inside formula body")
		}

		for _, pattern := range garbledPatterns {
			if idx := strings.Index(line, pattern); idx != -1 {
				result.addError(lineNum+1, idx+1, "encoding", "possible encoding issue detected (garbled text)")
				break
			}
		}
	}
}

// Summary returns a one-line description of the check result
func (r *FormulaCheck) Summary() string {
	if len(r.Issues) == 0 {
		return "no issues"
	}
	counts := map[string]int{}
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return fmt.Sprintf("%d errors, %d warnings", counts["error"], counts["warning"])
}
