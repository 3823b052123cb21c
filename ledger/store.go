package ledger

import "context"

// Store is the position record store. Get returns (nil, nil) when the symbol
// is not held. List must return one consistent view of every position.
type Store interface {
	Get(ctx context.Context, symbol string) (*Position, error)
	Set(ctx context.Context, symbol string, p Position) error
	Delete(ctx context.Context, symbol string) error
	List(ctx context.Context) ([]Position, error)
}

// HistorySink receives audit records of applied trades. Capping the history
// is the sink owner's job.
type HistorySink interface {
	Append(ctx context.Context, rec TradeRecord) error
}
