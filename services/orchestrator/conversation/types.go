package conversation

import (
	"context"
	"fmt"
)

// Mode selects how much conversation history the gate passes to the
// generation step.
//
// # Modes
//
//   - ModeNone: no history. Every question stands alone.
//   - ModeBuffer: the last bufferWindow masked turns, verbatim.
//   - ModeSummary: a rolling LLM-written summary of the conversation,
//     regenerated after each exchange.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeBuffer  Mode = "buffer"
	ModeSummary Mode = "summary"
)

// ParseMode validates and converts a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeBuffer, ModeSummary:
		return Mode(s), nil
	case "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unknown memory mode %q (want none, buffer, or summary)", s)
	}
}

// Window and generation limits for memory handling.
const (
	// bufferWindow is how many recent turns buffer mode replays.
	bufferWindow = 10

	// summaryWindow is how many recent turns feed summary regeneration.
	summaryWindow = 20

	// summaryMaxTokens caps the generated summary length.
	summaryMaxTokens = 300

	// summaryTemperature keeps summaries deterministic-ish.
	summaryTemperature = 0.1
)

// Turn is one persisted conversation turn. Content is always stored in
// masked form; raw PII never reaches the store. Timestamp is Unix
// milliseconds.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Store persists per-tenant conversation turns and rolling summaries.
//
// Implementations must be safe for concurrent use. Turns are ordered by
// insertion; Recent returns the newest n in chronological order.
type Store interface {
	// AppendTurn appends one turn to the tenant's history.
	AppendTurn(ctx context.Context, tenant string, turn Turn) error

	// Recent returns up to n of the newest turns, oldest first.
	Recent(ctx context.Context, tenant string, n int) ([]Turn, error)

	// Summary returns the tenant's rolling summary, empty if none.
	Summary(ctx context.Context, tenant string) (string, error)

	// SetSummary replaces the tenant's rolling summary.
	SetSummary(ctx context.Context, tenant, summary string) error

	// Clear deletes all turns and the summary for a tenant.
	Clear(ctx context.Context, tenant string) error

	// Close releases the underlying storage.
	Close() error
}
