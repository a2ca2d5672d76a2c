package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/riteshkumar/banking-core/internal/auth"
	"github.com/riteshkumar/banking-core/internal/errors"
	"github.com/riteshkumar/banking-core/internal/metrics"
	"github.com/riteshkumar/banking-core/internal/models"
	"github.com/riteshkumar/banking-core/internal/notify"
	"github.com/riteshkumar/banking-core/internal/repository"
)

// ReportedRiskScore is stamped on user-report alerts whose transaction was
// never scored.
const ReportedRiskScore = 80

const maxReasonLength = 500

type FraudService interface {
	CreateAlert(ctx context.Context, transactionID int64, description string, riskScore int) (*models.FraudAlert, error)
	ReportTransaction(ctx context.Context, transactionID, requesterID int64, reason string) (*models.FraudAlert, error)
	UpdateAlertStatus(ctx context.Context, actor auth.Principal, alertID int64, req *models.UpdateAlertRequest) (*models.FraudAlert, error)
	ListAlerts(ctx context.Context, actor auth.Principal, q models.ListAlertsQuery) (*models.AlertPage, error)
	ListUserAlerts(ctx context.Context, actor auth.Principal, page, limit int) (*models.AlertPage, error)
	GetAlert(ctx context.Context, actor auth.Principal, id int64) (*models.FraudAlert, error)
}

type FraudServiceImpl struct {
	transactor      repository.Transactor
	transactionRepo repository.TransactionRepository
	alertRepo       repository.AlertRepository
	auditRepo       repository.AuditRepository
	notifier        notify.Notifier
	timeout         time.Duration
	now             func() time.Time
	logger          zerolog.Logger
}

func NewFraudService(
	transactor repository.Transactor,
	transactionRepo repository.TransactionRepository,
	alertRepo repository.AlertRepository,
	auditRepo repository.AuditRepository,
	notifier notify.Notifier,
	timeout time.Duration,
	logger zerolog.Logger,
) *FraudServiceImpl {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &FraudServiceImpl{
		transactor:      transactor,
		transactionRepo: transactionRepo,
		alertRepo:       alertRepo,
		auditRepo:       auditRepo,
		notifier:        notifier,
		timeout:         timeout,
		now:             time.Now,
		logger:          logger,
	}
}

// CreateAlert opens a new auto alert for a flagged transaction. The
// transaction row is locked so creation and user reports on the same
// transaction serialize; a second alert fails with ErrDuplicateAlert.
func (s *FraudServiceImpl) CreateAlert(ctx context.Context, transactionID int64, description string, riskScore int) (*models.FraudAlert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if riskScore < 0 || riskScore > 100 {
		return nil, errors.NewValidationError("risk_score", "must be between 0 and 100")
	}
	if strings.TrimSpace(description) == "" {
		return nil, errors.NewValidationError("description", "must be non-empty")
	}

	var alert *models.FraudAlert
	err := s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
		txn, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		if _, err := s.alertRepo.GetByTransactionID(ctx, tx, transactionID); err == nil {
			return errors.ErrDuplicateAlert
		} else if !errors.IsNotFound(err) {
			return err
		}

		alert = &models.FraudAlert{
			UserID:        txn.AccountID,
			TransactionID: txn.ID,
			Description:   description,
			Status:        models.AlertNew,
			RiskScore:     riskScore,
			Source:        models.AlertSourceAuto,
		}
		if err := s.alertRepo.Create(ctx, tx, alert); err != nil {
			return err
		}
		return s.auditAlert(ctx, tx, alert, models.AuditActionCreate, nil, nil)
	})
	if err != nil {
		if errors.IsNotFound(err) || err == errors.ErrDuplicateAlert {
			return nil, err
		}
		s.logger.Error().Int64("transaction_id", transactionID).Err(err).Msg("failed to create fraud alert")
		return nil, errors.NewPersistenceError("create alert", err)
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Source)).Inc()
	s.logger.Info().
		Int64("alert_id", alert.ID).
		Int64("transaction_id", transactionID).
		Int("risk_score", riskScore).
		Msg("fraud alert created")
	s.publish(ctx, notify.EventAlertCreated, alert)
	return alert, nil
}

// RaiseAlertRisk folds a later automatic flag into the alert already open
// for the transaction, typically a user report filed before scoring
// finished. The score only goes up, the flag explanation is appended once,
// and the alert status is left alone.
func (s *FraudServiceImpl) RaiseAlertRisk(ctx context.Context, transactionID int64, description string, riskScore int) (*models.FraudAlert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if riskScore < 0 || riskScore > 100 {
		return nil, errors.NewValidationError("risk_score", "must be between 0 and 100")
	}
	if strings.TrimSpace(description) == "" {
		return nil, errors.NewValidationError("description", "must be non-empty")
	}

	var (
		alert   *models.FraudAlert
		changed bool
	)
	err := s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
		if _, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, transactionID); err != nil {
			return err
		}
		existing, err := s.alertRepo.GetByTransactionID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		alert = existing
		previous := existing.RiskScore

		if !strings.Contains(existing.Description, description) {
			if err := s.alertRepo.AppendDescription(ctx, tx, existing.ID, description); err != nil {
				return err
			}
			alert.Description += "\n" + description
			changed = true
		}
		if riskScore > previous {
			if err := s.alertRepo.RaiseRiskScore(ctx, tx, existing.ID, riskScore); err != nil {
				return err
			}
			alert.RiskScore = riskScore
			changed = true
		}
		if !changed {
			return nil
		}

		entry, err := auditEntry(models.EntityTypeAlert, alert.ID, models.AuditActionRaise, nil,
			models.AlertRiskSnapshot{ID: alert.ID, RiskScore: previous},
			models.AlertRiskSnapshot{ID: alert.ID, RiskScore: alert.RiskScore})
		if err != nil {
			return err
		}
		return s.auditRepo.Create(ctx, tx, entry)
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		s.logger.Error().Int64("transaction_id", transactionID).Err(err).Msg("failed to raise fraud alert risk")
		return nil, errors.NewPersistenceError("raise alert risk", err)
	}

	if changed {
		s.logger.Info().
			Int64("alert_id", alert.ID).
			Int64("transaction_id", transactionID).
			Int("risk_score", alert.RiskScore).
			Msg("fraud alert risk raised")
		s.publish(ctx, notify.EventAlertRiskRaised, alert)
	}
	return alert, nil
}

// ReportTransaction lets the payer flag their own transaction. It marks the
// transaction reported and either opens a new alert or appends the reason
// to the existing one without changing its status.
func (s *FraudServiceImpl) ReportTransaction(ctx context.Context, transactionID, requesterID int64, reason string) (*models.FraudAlert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.NewValidationError("reason", "must be non-empty")
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return nil, errors.NewValidationError("reason", "must be at most 500 characters")
	}

	var (
		alert   *models.FraudAlert
		created bool
	)
	err := s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
		txn, err := s.transactionRepo.GetByIDForUpdate(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if txn.AccountID != requesterID {
			return errors.ErrUnauthorized
		}

		if !txn.Reported {
			if err := s.transactionRepo.MarkReported(ctx, tx, txn.ID); err != nil {
				return err
			}
		}
		entry, err := auditEntry(models.EntityTypeTransaction, txn.ID, models.AuditActionReport, &requesterID,
			nil, map[string]any{"reported": true, "reason": reason})
		if err != nil {
			return err
		}
		if err := s.auditRepo.Create(ctx, tx, entry); err != nil {
			return err
		}

		existing, err := s.alertRepo.GetByTransactionID(ctx, tx, txn.ID)
		switch {
		case err == nil:
			if err := s.alertRepo.AppendDescription(ctx, tx, existing.ID, reason); err != nil {
				return err
			}
			existing.Description += "\n" + reason
			alert = existing
			return nil
		case !errors.IsNotFound(err):
			return err
		}

		score := ReportedRiskScore
		if txn.RiskScore != nil {
			score = *txn.RiskScore
		}
		alert = &models.FraudAlert{
			UserID:        txn.AccountID,
			TransactionID: txn.ID,
			Description:   reason,
			Status:        models.AlertNew,
			RiskScore:     score,
			Source:        models.AlertSourceUserReport,
		}
		if err := s.alertRepo.Create(ctx, tx, alert); err != nil {
			return err
		}
		created = true
		return s.auditAlert(ctx, tx, alert, models.AuditActionCreate, &requesterID, nil)
	})
	if err != nil {
		if errors.IsNotFound(err) || errors.IsUnauthorized(err) {
			s.logger.Warn().
				Int64("transaction_id", transactionID).
				Int64("requester_id", requesterID).
				Err(err).
				Msg("transaction report rejected")
			return nil, err
		}
		s.logger.Error().Int64("transaction_id", transactionID).Err(err).Msg("failed to report transaction")
		return nil, errors.NewPersistenceError("report transaction", err)
	}

	s.logger.Info().
		Int64("transaction_id", transactionID).
		Int64("alert_id", alert.ID).
		Bool("new_alert", created).
		Msg("transaction reported")
	if created {
		metrics.AlertsCreated.WithLabelValues(string(alert.Source)).Inc()
		s.publish(ctx, notify.EventAlertCreated, alert)
	}
	return alert, nil
}

// UpdateAlertStatus moves an alert through its lifecycle. The write only
// applies if the status read here is still current, otherwise
// ErrConcurrentModification is returned.
func (s *FraudServiceImpl) UpdateAlertStatus(ctx context.Context, actor auth.Principal, alertID int64, req *models.UpdateAlertRequest) (*models.FraudAlert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}
	if !req.Status.Valid() {
		return nil, errors.NewValidationError("status", "must be one of new, reviewing, resolved, dismissed")
	}

	alert, err := s.alertRepo.GetByID(ctx, alertID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.NewPersistenceError("get alert", err)
	}

	previous := alert.Status
	if previous.Terminal() {
		return nil, errors.ErrAlertAlreadyClosed
	}
	if !previous.CanTransition(req.Status) {
		return nil, errors.ErrInvalidTransition
	}

	resolution := strings.TrimSpace(req.Resolution)
	if req.Status.Terminal() {
		if resolution == "" {
			return nil, errors.NewValidationError("resolution", "required when closing an alert")
		}
		now := s.now()
		alert.Resolution = &resolution
		alert.ResolvedBy = &actor.AccountID
		alert.ResolvedAt = &now
	}
	alert.Status = req.Status

	err = s.transactor.WithinTx(ctx, func(tx repository.DBTX) error {
		if err := s.alertRepo.UpdateStatus(ctx, tx, alert, previous); err != nil {
			return err
		}
		return s.auditAlert(ctx, tx, alert, models.AuditActionStatus, &actor.AccountID,
			&models.AlertStatusSnapshot{ID: alert.ID, Status: previous})
	})
	if err != nil {
		if err == errors.ErrConcurrentModification {
			s.logger.Warn().Int64("alert_id", alertID).Msg("alert changed concurrently")
			return nil, err
		}
		s.logger.Error().Int64("alert_id", alertID).Err(err).Msg("failed to update alert status")
		return nil, errors.NewPersistenceError("update alert status", err)
	}

	metrics.AlertTransitions.WithLabelValues(string(alert.Status)).Inc()
	s.logger.Info().
		Int64("alert_id", alert.ID).
		Str("from", string(previous)).
		Str("to", string(alert.Status)).
		Int64("actor_id", actor.AccountID).
		Msg("alert status updated")
	s.publish(ctx, notify.EventAlertStatusChanged, alert)
	return alert, nil
}

// ListAlerts is the privileged review queue, newest first.
func (s *FraudServiceImpl) ListAlerts(ctx context.Context, actor auth.Principal, q models.ListAlertsQuery) (*models.AlertPage, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}
	if q.Status != nil && !q.Status.Valid() {
		return nil, errors.NewValidationError("status", "must be one of new, reviewing, resolved, dismissed")
	}
	return s.list(ctx, q)
}

// ListUserAlerts returns the alerts raised on the actor's own transactions.
func (s *FraudServiceImpl) ListUserAlerts(ctx context.Context, actor auth.Principal, page, limit int) (*models.AlertPage, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	userID := actor.AccountID
	return s.list(ctx, models.ListAlertsQuery{UserID: &userID, Page: page, Limit: limit})
}

func (s *FraudServiceImpl) GetAlert(ctx context.Context, actor auth.Principal, id int64) (*models.FraudAlert, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	alert, err := s.alertRepo.GetByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.NewPersistenceError("get alert", err)
	}
	if alert.UserID != actor.AccountID && !actor.Privileged() {
		return nil, errors.ErrUnauthorized
	}
	return alert, nil
}

func (s *FraudServiceImpl) list(ctx context.Context, q models.ListAlertsQuery) (*models.AlertPage, error) {
	page, limit, err := normalizePage(q.Page, q.Limit)
	if err != nil {
		return nil, err
	}
	q.Page, q.Limit = page, limit

	items, total, err := s.alertRepo.List(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list alerts")
		return nil, errors.NewPersistenceError("list alerts", err)
	}
	return &models.AlertPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *FraudServiceImpl) auditAlert(ctx context.Context, tx repository.DBTX, alert *models.FraudAlert, action string, actorID *int64, old *models.AlertStatusSnapshot) error {
	var oldValue any
	if old != nil {
		oldValue = old
	}
	entry, err := auditEntry(models.EntityTypeAlert, alert.ID, action, actorID, oldValue,
		models.AlertStatusSnapshot{ID: alert.ID, Status: alert.Status, Resolution: alert.Resolution})
	if err != nil {
		return err
	}
	return s.auditRepo.Create(ctx, tx, entry)
}

// publish is best effort: the alert change is already committed.
func (s *FraudServiceImpl) publish(ctx context.Context, eventType notify.EventType, alert *models.FraudAlert) {
	event := notify.AlertEvent{Type: eventType, Alert: alert, OccurredAt: s.now()}
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn().
			Int64("alert_id", alert.ID).
			Str("event_type", string(eventType)).
			Err(err).
			Msg("failed to publish alert event")
	}
}
