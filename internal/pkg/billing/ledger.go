package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/PlusLedger/app/models"
)

// WebhookLedger remembers provider events whose effects have committed.
type WebhookLedger struct {
	repo Repository
}

func NewWebhookLedger(repo Repository) *WebhookLedger {
	return &WebhookLedger{repo: repo}
}

// AlreadyProcessed reports whether the event was recorded before.
func (l *WebhookLedger) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	provider = normalizeProvider(provider)
	eventID = strings.TrimSpace(eventID)
	if provider == "" || eventID == "" {
		return false, errors.New("provider and event id are required")
	}
	return l.repo.WebhookEventExists(ctx, provider, eventID)
}

// RecordProcessed stores the event. It must only be called once the event's
// effect is committed. It reports whether this call created the entry.
func (l *WebhookLedger) RecordProcessed(ctx context.Context, in WebhookEventInput) (bool, error) {
	provider := normalizeProvider(in.Provider)
	if provider == "" {
		return false, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		eventID = payloadEventID(in.PayloadJSON)
	}
	now := time.Now().UTC()
	return l.repo.InsertWebhookEvent(ctx, &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		RelatedUserID:   in.RelatedUserID,
		ProcessedAt:     &now,
	})
}

// payloadEventID derives an id for providers that send none.
func payloadEventID(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return "hash:" + hex.EncodeToString(sum[:])
}
