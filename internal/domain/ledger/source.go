package ledger

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_source.go -package=mocks . RowSource,Rows

import "context"

// RowSource opens the ledger behind a locator (sheet URL, export link).
type RowSource interface {
	Open(ctx context.Context, locator string) (Rows, error)
}

// Rows iterates ledger rows in order. Next returns io.EOF after the last row;
// any other error means the source failed part way.
type Rows interface {
	Next() (Row, error)
	Close() error
}
