// Package oracle abstracts the external code-generation/review capability.
// The pipeline treats it as a possibly-slow, possibly-fallible black box and
// never assumes a well-formed reply.
package oracle

import (
	"context"
	"strings"
)

// TaskKind identifies what the pipeline is asking the oracle to do
type TaskKind string

const (
	TaskPlanStructure      TaskKind = "plan-structure"
	TaskPlanSignature      TaskKind = "plan-signature"
	TaskImplement          TaskKind = "implement"
	TaskReviewLogic        TaskKind = "review-logic"
	TaskReviewTypeSafety   TaskKind = "review-type-safety"
	TaskFixBuildError      TaskKind = "fix-build-error"
	TaskProposeReplacement TaskKind = "propose-library-replacement"
	TaskOptimizeFile       TaskKind = "optimize-file"
)

// Request carries one bounded-context task to the oracle
type Request struct {
	Kind    TaskKind
	System  string // role/constraints preamble
	Prompt  string // task body: source excerpts, crate layout, diagnostics
	Summary string // expected answer shape, when the task wants a decision block
}

// Oracle is the single external capability interface. Implementations must
// respect ctx cancellation; the pipeline bounds every call with a deadline.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// FirstLine returns the first non-empty line of an oracle reply, trimmed.
// Review verdicts are matched against it.
func FirstLine(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// VerdictOK reports whether a review reply passes: a bare "OK" inside or
// without a summary block.
func VerdictOK(reply string) bool {
	body := reply
	if block, ok := summaryBlock(reply); ok {
		body = block
	}
	return strings.EqualFold(strings.TrimSpace(body), "ok")
}

func summaryBlock(text string) (string, bool) {
	lower := strings.ToLower(text)
	start := strings.Index(lower, "<summary>")
	if start < 0 {
		return "", false
	}
	rest := text[start+len("<summary>"):]
	end := strings.Index(strings.ToLower(rest), "</summary>")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
