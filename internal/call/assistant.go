package call

import (
	"fmt"
	"strings"

	"github.com/leadline-ai/leadline/internal/model"
)

const defaultAssistantModel = "claude-sonnet-4-20250514"

// BuildAssistant assembles the immutable assistant configuration for one
// call from the agency's pitch material and the opportunity's fit reason.
// The snapshot is frozen at call creation; later agency edits never
// change an in-flight call.
func BuildAssistant(agency *model.Agency, opp *model.Opportunity) model.AssistantSnapshot {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a professional outbound sales representative calling on behalf of %s.\n", agency.Name)
	fmt.Fprintf(&b, "You are speaking with %s.\n", opp.Name)

	if opp.FitReason != "" {
		fmt.Fprintf(&b, "\nWhy this business is a fit: %s\n", opp.FitReason)
	}
	if agency.Offer != "" {
		fmt.Fprintf(&b, "\nThe offer:\n%s\n", agency.Offer)
	}
	if len(agency.Claims) > 0 {
		b.WriteString("\nClaims you may make:\n")
		for _, c := range agency.Claims {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(agency.Guardrails) > 0 {
		b.WriteString("\nRules you must follow:\n")
		for _, g := range agency.Guardrails {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	b.WriteString("\nYour goal is to book a short introductory meeting. " +
		"Propose specific times only from the availability you are given. " +
		"If the person declines clearly, thank them and end the call politely.")

	return model.AssistantSnapshot{
		SystemPrompt: b.String(),
		FirstMessage: fmt.Sprintf("Hi, this is an assistant calling on behalf of %s. Have I caught you at an okay time?", agency.Name),
		Model:        defaultAssistantModel,
	}
}
