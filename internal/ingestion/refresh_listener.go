// Package ingestion receives operational refresh requests over NATS.
// This is the admin surface only; valuation and cash-flow ingestion
// stay with the portal.
package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"IRREngine/internal/domain"
	"IRREngine/internal/query"
)

// RefreshRequest is the wire shape on the refresh subject. EntityID
// empty means "every cached entry at this level".
type RefreshRequest struct {
	Level    string `json:"level"`
	EntityID string `json:"entity_id,omitempty"`
	AsOfDate string `json:"as_of_date,omitempty"`
}

// RefreshListener subscribes to the refresh subject and forwards
// requests to the query façade.
type RefreshListener struct {
	conn    *nats.Conn
	service *query.Service
	logger  zerolog.Logger
	sub     *nats.Subscription
}

func NewRefreshListener(conn *nats.Conn, service *query.Service, logger zerolog.Logger) *RefreshListener {
	return &RefreshListener{conn: conn, service: service, logger: logger}
}

// Subscribe starts consuming refresh requests on subject. Malformed
// messages are logged and dropped; the subscription stays up.
func (l *RefreshListener) Subscribe(subject string) error {
	sub, err := l.conn.Subscribe(subject, l.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	l.sub = sub
	l.logger.Info().Str("subject", subject).Msg("refresh listener subscribed")
	return nil
}

// Close drains the subscription.
func (l *RefreshListener) Close() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

func (l *RefreshListener) handle(msg *nats.Msg) {
	var req RefreshRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		l.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed refresh request")
		return
	}

	level, ok := domain.ParseLevel(req.Level)
	if !ok {
		l.logger.Warn().Str("level", req.Level).Msg("dropping refresh request with unknown level")
		return
	}

	asOf := time.Now().UTC().Truncate(24 * time.Hour)
	if req.AsOfDate != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOfDate)
		if err != nil {
			l.logger.Warn().Err(err).Str("as_of_date", req.AsOfDate).Msg("dropping refresh request with bad date")
			return
		}
		asOf = parsed
	}

	var entityID *uuid.UUID
	if req.EntityID != "" {
		id, err := uuid.Parse(req.EntityID)
		if err != nil {
			l.logger.Warn().Err(err).Str("entity_id", req.EntityID).Msg("dropping refresh request with bad entity id")
			return
		}
		entityID = &id
	}

	scheduled := l.service.ForceRefresh(level, entityID, asOf)
	l.logger.Info().
		Str("level", req.Level).
		Str("entity_id", req.EntityID).
		Int("scheduled", scheduled).
		Msg("refresh request applied")
}
