// Package refstore keeps the last submitted item per sender, so a follow-up
// text message can refer back to it. The store is a single slot per sender,
// last-write-wins, with no history beyond depth 1.
package refstore

import (
	"context"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Store is the per-sender reference slot. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the stored state for a sender, or ok=false when the
	// sender has never submitted anything (or the slot expired).
	Get(ctx context.Context, senderID string) (*types.SenderState, bool, error)

	// Put overwrites the sender's slot with a new top-level submission.
	// The slot starts with MayRespond=true.
	Put(ctx context.Context, senderID string, item *types.WorkItem) error

	// Suppress clears MayRespond on the sender's slot, keeping the item.
	// A no-op when the slot is empty.
	Suppress(ctx context.Context, senderID string) error
}
