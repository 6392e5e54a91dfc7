package activity

import "context"

// Transport ships records to the audit backend. Implementations must honour
// ctx deadlines; callers treat every error as final.
type Transport interface {
	SendBatch(ctx context.Context, records []LogRecord) error
	Send(ctx context.Context, record LogRecord) error
}
