package interfaces

import (
	"context"

	"market-platform/src/models"
)

// -----------------------------------------------------------------------------
// ISink defines the contract for the durable table behind a websocket feed.
// -----------------------------------------------------------------------------

type ISink interface {

	// -----------------------------------------------------------------------------

	// Initialize opens the sessions and creates the records table and indices.
	Initialize(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// WriteBatch appends messages in order inside one transaction.
	WriteBatch(ctx context.Context, messages [][]byte) (int, error)

	// -----------------------------------------------------------------------------

	// Prune deletes the oldest rows beyond rowCap. Returns the number removed.
	Prune(ctx context.Context, rowCap int) (int64, error)

	// -----------------------------------------------------------------------------

	// Query reads rows through the read-only session, ascending by id.
	Query(ctx context.Context, filter models.MRecordFilter) ([]models.MRecord, error)

	// -----------------------------------------------------------------------------

	// Recent returns the newest limit rows, ascending by id.
	Recent(ctx context.Context, limit int) ([]models.MRecord, error)

	// -----------------------------------------------------------------------------

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int64, error)

	// -----------------------------------------------------------------------------

	// Symbols returns the distinct symbols present in the sink.
	Symbols(ctx context.Context) ([]string, error)

	// -----------------------------------------------------------------------------

	// Close the sessions
	Close() error
}
