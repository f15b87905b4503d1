package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/hashit-app/hashit/ports"
)

const (
	TopicLogin   = "hashit.auth.login"
	TopicLockout = "hashit.auth.lockout"
	TopicLogout  = "hashit.auth.logout"
)

// LoginEvent is published after a successful signature verification.
type LoginEvent struct {
	AccountID     string    `json:"account_id"`
	WalletAddress string    `json:"wallet_address"`
	At            time.Time `json:"at"`
}

// LockoutEvent is published when a failed attempt trips the lockout threshold.
type LockoutEvent struct {
	AccountID     string    `json:"account_id"`
	WalletAddress string    `json:"wallet_address"`
	LockedUntil   time.Time `json:"locked_until"`
}

// LogoutEvent is published when a refresh token is explicitly revoked.
type LogoutEvent struct {
	AccountID string    `json:"account_id"`
	At        time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishLogin(ctx context.Context, accountID, walletAddress string) error {
	return p.publish(TopicLogin, LoginEvent{
		AccountID:     accountID,
		WalletAddress: walletAddress,
		At:            time.Now(),
	})
}

func (p *WatermillPublisher) PublishLockout(ctx context.Context, accountID, walletAddress string, until time.Time) error {
	return p.publish(TopicLockout, LockoutEvent{
		AccountID:     accountID,
		WalletAddress: walletAddress,
		LockedUntil:   until,
	})
}

func (p *WatermillPublisher) PublishLogout(ctx context.Context, accountID string) error {
	return p.publish(TopicLogout, LogoutEvent{
		AccountID: accountID,
		At:        time.Now(),
	})
}

func (p *WatermillPublisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
