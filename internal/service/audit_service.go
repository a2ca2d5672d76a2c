package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/auth"
	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/repository"
)

type AuditService interface {
	GetAuditTrail(ctx context.Context, actor auth.Principal, entityType string, entityID int64) ([]*models.AuditLog, error)
}

type AuditServiceImpl struct {
	auditRepo repository.AuditRepository
	logger    zerolog.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, logger zerolog.Logger) *AuditServiceImpl {
	return &AuditServiceImpl{auditRepo: auditRepo, logger: logger}
}

// GetAuditTrail returns the change history of one entity, newest first.
// Only privileged actors may read it.
func (s *AuditServiceImpl) GetAuditTrail(ctx context.Context, actor auth.Principal, entityType string, entityID int64) ([]*models.AuditLog, error) {
	if !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}
	switch entityType {
	case models.EntityTypeAccount, models.EntityTypeTransaction, models.EntityTypeAlert:
	default:
		return nil, errors.NewValidationError("entity_type", "must be ACCOUNT, TRANSACTION or FRAUD_ALERT")
	}
	if entityID <= 0 {
		return nil, errors.NewValidationError("entity_id", "must be positive")
	}

	logs, err := s.auditRepo.GetByEntityID(ctx, entityType, entityID)
	if err != nil {
		s.logger.Error().Str("entity_type", entityType).Int64("entity_id", entityID).Err(err).Msg("failed to load audit trail")
		return nil, errors.NewPersistenceError("get audit trail", err)
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	return logs, nil
}
