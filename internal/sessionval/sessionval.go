// Package sessionval enforces conversation ownership and expiry. Every
// chat, upload, and history read passes through Validate first.
package sessionval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/metrics"
	"github.com/ragnote/ragcore/internal/store"
)

// Sentinel errors. Handlers map ErrNotFound and ErrAccessDenied to the same
// client response so conversation ids cannot be probed.
var (
	ErrNotFound     = errors.New("Conversation not found or access denied")
	ErrAccessDenied = errors.New("Access denied: You don't own this conversation")
	ErrExpired      = errors.New("Conversation expired")
)

// DefaultExpiryDays is how long a conversation stays usable without
// activity.
const DefaultExpiryDays = 30

// expiringFraction of the expiry window after which health reports
// "expiring".
const expiringFraction = 0.8

// Validator checks conversations against the relational store.
type Validator struct {
	store      *store.Store
	expiryDays int
	now        func() time.Time
	logger     *zap.Logger
}

// New builds a validator. expiryDays <= 0 selects the default.
func New(st *store.Store, expiryDays int, logger *zap.Logger) *Validator {
	if expiryDays <= 0 {
		expiryDays = DefaultExpiryDays
	}
	return &Validator{store: st, expiryDays: expiryDays, now: time.Now, logger: logger}
}

// Validate returns the conversation when it exists, belongs to userID, and
// has activity within the expiry window.
func (v *Validator) Validate(ctx context.Context, conversationID string, userID int64) (*store.Conversation, error) {
	conv, err := v.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if conv.UserID != userID {
		v.logger.Warn("Cross-tenant conversation access rejected",
			zap.String("conversation_id", conversationID),
			zap.Int64("owner_id", conv.UserID),
			zap.Int64("caller_id", userID),
		)
		return nil, ErrAccessDenied
	}

	if age := v.ageDays(conv); age > float64(v.expiryDays) {
		return nil, fmt.Errorf("%w: Last activity was %d days ago (max: %d days)",
			ErrExpired, int(age), v.expiryDays)
	}

	return conv, nil
}

// ageDays measures days since last activity, falling back to created_at
// when updated_at is unset.
func (v *Validator) ageDays(conv *store.Conversation) float64 {
	last := conv.UpdatedAt
	if last.IsZero() {
		last = conv.CreatedAt
	}
	if last.IsZero() {
		return 0
	}
	return v.now().Sub(last).Hours() / 24
}

// Health describes one conversation's lifecycle state.
type Health struct {
	ConversationID string  `json:"conversation_id"`
	HealthStatus   string  `json:"health_status"` // healthy, expiring, expired, invalid
	AgeDays        float64 `json:"age_days"`
	ExpiresInDays  float64 `json:"expires_in_days"`
	MessageCount   int     `json:"message_count"`
}

// CheckHealth reports lifecycle state without rejecting the conversation.
func (v *Validator) CheckHealth(ctx context.Context, conversationID string, userID int64) (*Health, error) {
	conv, err := v.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Health{ConversationID: conversationID, HealthStatus: "invalid"}, nil
		}
		return nil, err
	}
	if conv.UserID != userID {
		return &Health{ConversationID: conversationID, HealthStatus: "invalid"}, nil
	}

	age := v.ageDays(conv)
	status := "healthy"
	switch {
	case age > float64(v.expiryDays):
		status = "expired"
	case age > expiringFraction*float64(v.expiryDays):
		status = "expiring"
	}

	count, err := v.store.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	expiresIn := float64(v.expiryDays) - age
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &Health{
		ConversationID: conversationID,
		HealthStatus:   status,
		AgeDays:        age,
		ExpiresInDays:  expiresIn,
		MessageCount:   count,
	}, nil
}

// CleanupReport summarizes one expiry sweep.
type CleanupReport struct {
	TotalConversations int      `json:"total_conversations"`
	ExpiredCount       int      `json:"expired_count"`
	DeletedCount       int      `json:"deleted_count"`
	DeletedIDs         []string `json:"deleted_ids"`
}

// Cleanup deletes every conversation past the expiry window, across all
// users. Reserved for the background sweep; the user-facing endpoint uses
// CleanupUser.
func (v *Validator) Cleanup(ctx context.Context) (*CleanupReport, error) {
	convs, err := v.store.ListAllConversations(ctx)
	if err != nil {
		return nil, err
	}
	report := v.sweep(ctx, convs)
	metrics.ActiveConversations.Set(float64(report.TotalConversations - report.DeletedCount))
	return report, nil
}

// CleanupUser deletes only the caller's expired conversations.
func (v *Validator) CleanupUser(ctx context.Context, userID int64) (*CleanupReport, error) {
	convs, err := v.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return v.sweep(ctx, convs), nil
}

func (v *Validator) sweep(ctx context.Context, convs []store.Conversation) *CleanupReport {
	report := &CleanupReport{TotalConversations: len(convs)}
	for _, conv := range convs {
		if v.ageDays(&conv) <= float64(v.expiryDays) {
			continue
		}
		report.ExpiredCount++
		if err := v.store.DeleteConversation(ctx, conv.ID); err != nil {
			v.logger.Warn("Expired conversation not deleted",
				zap.String("conversation_id", conv.ID), zap.Error(err))
			continue
		}
		report.DeletedCount++
		report.DeletedIDs = append(report.DeletedIDs, conv.ID)
		metrics.ConversationsExpired.Inc()
	}

	if report.DeletedCount > 0 {
		v.logger.Info("Expired conversations removed",
			zap.Int("deleted", report.DeletedCount),
			zap.Int("total", report.TotalConversations),
		)
	}
	return report
}

// Run sweeps on an interval until ctx is done.
func (v *Validator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.Cleanup(ctx); err != nil {
				v.logger.Error("Cleanup sweep failed", zap.Error(err))
			}
		}
	}
}
