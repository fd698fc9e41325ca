package agent

import (
	"fmt"
	"strings"

	"policyrag/internal/retrieval"
)

const (
	DefaultPersona = "You are an expert risk auditor answering questions about the bank's credit policy manual."
	DefaultRefusal = "The information is not in the manual."
)

// BuildSystemPrompt renders the persona and the mandatory answering rules.
func BuildSystemPrompt(persona, refusal, toolName string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(persona))
	sb.WriteString("\n\nMandatory rules:\n")
	fmt.Fprintf(&sb, "1. Answer exclusively with information returned by the %s tool. Call it before answering.\n", toolName)
	fmt.Fprintf(&sb, "2. If the tool returns %s, answer exactly: %q\n", retrieval.Sentinel, refusal)
	sb.WriteString("3. Do not invent information.\n")
	sb.WriteString("4. Do not use external knowledge.\n")
	return sb.String()
}
