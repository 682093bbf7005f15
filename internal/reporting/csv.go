package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderLedgerCSV renders ledger rows as CSV string.
func RenderLedgerCSV(events []EventView) string {
	var sb strings.Builder

	// Header
	sb.WriteString("id,order_id,bonus_type,amount,lane,depth,status,created_at,released_at\n")

	// Rows
	for _, e := range events {
		depth := ""
		if e.Depth != nil {
			depth = fmt.Sprintf("%d", *e.Depth)
		}
		releasedAt := ""
		if e.ReleasedAt != nil {
			releasedAt = e.ReleasedAt.UTC().Format(time.RFC3339)
		}
		sb.WriteString(fmt.Sprintf("%d,%d,%s,%s,%s,%s,%s,%s,%s\n",
			e.ID,
			e.OrderID,
			e.BonusType,
			e.Amount,
			e.Lane,
			depth,
			e.Status,
			e.CreatedAt.UTC().Format(time.RFC3339),
			releasedAt,
		))
	}

	return sb.String()
}
