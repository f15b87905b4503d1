package ports

import (
	"context"
	"time"
)

// EventPublisher notifies other services about authentication events.
type EventPublisher interface {
	PublishLogin(ctx context.Context, accountID, walletAddress string) error
	PublishLockout(ctx context.Context, accountID, walletAddress string, until time.Time) error
	PublishLogout(ctx context.Context, accountID string) error
}
