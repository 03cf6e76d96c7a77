package agent

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/tools"
)

// buildSystemPrompt builds the first message of a session
func buildSystemPrompt(content string, entities []extractor.Entity, refPath string, infos []*schema.ToolInfo) string {
	var sb strings.Builder

	sb.WriteString("You are a LaTeX formula correction assistant. The analysis document below was generated from an OCR result and may contain wrong formulas. ")
	sb.WriteString("Compare each formula with the OCR reference document and fix the ones that differ.\n\n")

	sb.WriteString(fmt.Sprintf("## Formulas (%d)\n\n", len(entities)))
	if len(entities) == 0 {
		sb.WriteString("No $$ formulas were found.\n")
	}
	for i, e := range entities {
		if e.StartLine == e.EndLine {
			sb.WriteString(fmt.Sprintf("%d. line %d: %s\n", i+1, e.StartLine, e.Text))
		} else {
			sb.WriteString(fmt.Sprintf("%d. lines %d-%d: %s\n", i+1, e.StartLine, e.EndLine, e.Text))
		}
	}

	sb.WriteString("\n## Analysis document\n\n")
	sb.WriteString(fmt.Sprintf("Content hash: %s\n\n```\n", editor.HashContent(content)))
	for i, line := range editor.SplitLines(content) {
		sb.WriteString(fmt.Sprintf("%4d | %s\n", i+1, strings.TrimRight(line, "\r\n")))
	}
	sb.WriteString("```\n\n")

	sb.WriteString("## Tools\n\n")
	for _, info := range infos {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", info.Name, info.Desc))
	}

	sb.WriteString("\n## Workflow\n\n")
	sb.WriteString(fmt.Sprintf("1. Call load_reference with file_path %q and a query built from a formula to find its rendering in the OCR reference.\n", refPath))
	sb.WriteString("2. Use validate_formula on a candidate correction when in doubt.\n")
	sb.WriteString("3. Call edit_text with the full current document as content. The first edit uses the document above; every later edit must use the edited_content of the previous successful edit. Line numbers refer to that content.\n")
	sb.WriteString("4. Only change formulas that disagree with the reference. Keep the surrounding text and the $$ delimiters.\n")
	sb.WriteString("\nWhen every formula has been checked, reply with \"Correction complete\" and a short summary.")
	for _, info := range infos {
		if info.Name == tools.ToolFinishCorrection {
			sb.WriteString(" You may call finish_correction instead.")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
