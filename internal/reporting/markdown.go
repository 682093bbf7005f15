package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a user report as Markdown string.
func RenderMarkdown(r *UserReport) string {
	var sb strings.Builder
	s := r.Summary

	// Header
	sb.WriteString(fmt.Sprintf("# Bonus Report: User %d\n\n", s.UserID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Placement
	sb.WriteString("## Placement\n\n")
	if s.Placed && s.Depth != nil {
		sb.WriteString(fmt.Sprintf("Placed at depth %d.\n\n", *s.Depth))
	} else {
		sb.WriteString("Not placed in the tree yet.\n\n")
	}

	// Pairing
	sb.WriteString("## Pairing\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Direct Referrals | %d |\n", s.DirectReferrals))
	sb.WriteString(fmt.Sprintf("| Left Count | %d |\n", s.LeftCount))
	sb.WriteString(fmt.Sprintf("| Right Count | %d |\n", s.RightCount))
	sb.WriteString(fmt.Sprintf("| Released Pairs | %d |\n", s.ReleasedPairs))
	sb.WriteString(fmt.Sprintf("| Available Pairs | %d |\n", s.AvailablePairs))
	sb.WriteString("\n")

	// Totals
	sb.WriteString("## Ledger Totals\n\n")
	sb.WriteString("| Bucket | Amount |\n")
	sb.WriteString("|--------|--------|\n")
	sb.WriteString(fmt.Sprintf("| DIRECT | %s |\n", s.DirectTotal))
	sb.WriteString(fmt.Sprintf("| HIERARCHY | %s |\n", s.HierarchyTotal))
	sb.WriteString(fmt.Sprintf("| RELEASED | %s |\n", s.ReleasedTotal))
	sb.WriteString(fmt.Sprintf("| PENDING | %s |\n", s.PendingTotal))
	sb.WriteString(fmt.Sprintf("| Events | %d |\n", s.Events))
	sb.WriteString("\n")

	// Recent events
	sb.WriteString("## Recent Events\n\n")
	if len(r.Events) > 0 {
		sb.WriteString("| ID | Order | Type | Amount | Status | Created |\n")
		sb.WriteString("|----|-------|------|--------|--------|---------|\n")
		for _, e := range r.Events {
			sb.WriteString(fmt.Sprintf("| %d | %d | %s | %s | %s | %s |\n",
				e.ID, e.OrderID, e.BonusType, e.Amount, e.Status,
				e.CreatedAt.UTC().Format(time.RFC3339)))
		}
	} else {
		sb.WriteString("No bonus events recorded.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
