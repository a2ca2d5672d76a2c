package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// normalizePage applies the page=1 / limit=10 defaults and bounds.
func normalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if page < 1 {
		return 0, 0, errors.NewValidationError("page", "must be at least 1")
	}
	if limit < 1 || limit > MaxPageLimit {
		return 0, 0, errors.NewValidationError("limit", "must be between 1 and 100")
	}
	return page, limit, nil
}

// withTimeout bounds a single core operation. A zero timeout disables it.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func auditEntry(entityType string, entityID int64, action string, actorID *int64, oldValue, newValue any) (*models.AuditLog, error) {
	log := &models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
	}
	if oldValue != nil {
		raw, err := json.Marshal(oldValue)
		if err != nil {
			return nil, err
		}
		log.OldValue = raw
	}
	raw, err := json.Marshal(newValue)
	if err != nil {
		return nil, err
	}
	log.NewValue = raw
	return log, nil
}
