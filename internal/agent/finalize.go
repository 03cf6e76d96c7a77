package agent

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"formula-corrector/internal/editor"
	"formula-corrector/internal/extractor"
	"formula-corrector/internal/logger"
	"formula-corrector/internal/tools"
)

// finalize moves the session to Finalized and assembles the result.
func (s *Session) finalize(status Status, reason StopReason) *Result {
	s.mu.Lock()
	s.st.Status = status
	st := s.st
	msgs := append([]*schema.Message(nil), s.st.Messages...)
	s.mu.Unlock()
	s.setState(StateFinalized)

	corrected, log := collectCorrections(s.original, msgs)

	res := &Result{
		SessionID:          s.id,
		IsComplete:         status == StatusCompleted && (reason == StopCompletionPhrase || reason == StopFinishTool),
		Status:             status,
		StopReason:         reason,
		OriginalContent:    s.original,
		CorrectedContent:   corrected,
		CorrectionsApplied: log,
		Entities:           s.report.Entities,
		DegradedSpans:      s.report.Degraded,
		ToolCallCount:      st.ToolCallCount,
		StepCount:          st.StepCount,
		MessageCount:       len(msgs),
		ModelFailures:      s.failures,
	}
	if s.refIndex != nil {
		res.ReferenceChunks = len(s.refIndex.Chunks())
		res.ReferenceBackend = s.refIndex.Backend()
		res.ReferenceDegraded = s.refIndex.Degraded()
	}
	if res.Entities == nil {
		res.Entities = []extractor.Entity{}
	}

	logger.Info("correction session finished",
		logger.String("session", s.id),
		logger.String("status", string(status)),
		logger.String("reason", string(reason)),
		logger.Int("corrections", len(log)),
		logger.Int("toolCalls", st.ToolCallCount),
		logger.Int("messages", len(msgs)))
	return res
}

// collectCorrections returns the edited_content of the most recent
// successful edit_text result and the chain of edits that produced it.
// Without a successful edit the original is returned unchanged.
func collectCorrections(original string, msgs []*schema.Message) (string, []Correction) {
	var edits []editor.EditResult
	for _, m := range msgs {
		if m.Role != schema.Tool || m.ToolName != tools.ToolEditText {
			continue
		}
		var res editor.EditResult
		if err := json.Unmarshal([]byte(m.Content), &res); err != nil || !res.Success {
			continue
		}
		edits = append(edits, res)
	}
	if len(edits) == 0 {
		return original, []Correction{}
	}

	// Walk back from the latest edit along base_hash links. Edits made on
	// abandoned versions of the document are not part of the result.
	latest := len(edits) - 1
	chain := []editor.EditResult{edits[latest]}
	want := edits[latest].BaseHash
	for i := latest - 1; i >= 0; i-- {
		if edits[i].NewHash == want {
			chain = append(chain, edits[i])
			want = edits[i].BaseHash
		}
	}

	if want != editor.HashContent(original) {
		logger.Warn("corrected document does not derive from the original analysis document",
			logger.String("rootHash", want))
	}

	log := make([]Correction, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		log = append(log, newCorrection(chain[i]))
	}
	return edits[latest].EditedContent, log
}

func newCorrection(res editor.EditResult) Correction {
	c := Correction{
		Operation: res.OperationKind,
		BaseHash:  res.BaseHash,
		NewHash:   res.NewHash,
	}
	if res.AffectedLines != nil {
		c.AffectedLines = *res.AffectedLines
	}
	c.Message = fmt.Sprintf("%s lines %d-%d (+%d/-%d)",
		res.OperationKind, c.AffectedLines.Start, c.AffectedLines.End, res.LinesAdded, res.LinesRemoved)
	return c
}
