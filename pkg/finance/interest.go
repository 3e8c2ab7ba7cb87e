package finance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/mcclellann/poolfund/pkg/validation"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InterestInput describes interest income earned outside the repayment flow.
type InterestInput struct {
	Amount       decimal.Decimal       `json:"amount" validate:"gt=0"`
	InterestDate time.Time             `json:"interest_date" validate:"required"`
	Source       models.InterestSource `json:"source" validate:"required,oneof=pre_system settlement penalty other"`
	Description  string                `json:"description" validate:"max=500"`
	BorrowerID   uuid.NullUUID         `json:"borrower_id"`
}

// InterestRegister maintains historical interest records.
type InterestRegister struct {
	storage  store.Storage
	validate *validation.Validator
	logger   *zap.Logger
	now      func() time.Time
}

func NewInterestRegister(s store.Storage, logger *zap.Logger, now func() time.Time) *InterestRegister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &InterestRegister{storage: s, validate: validation.New(), logger: logger, now: now}
}

func (r *InterestRegister) check(ctx context.Context, in InterestInput) error {
	if err := r.validate.Struct(in); err != nil {
		return err
	}
	if in.InterestDate.After(r.now()) {
		return apperr.Validation("interest_date cannot be in the future")
	}
	if in.BorrowerID.Valid {
		if _, err := r.storage.GetMember(ctx, in.BorrowerID.UUID); err != nil {
			return err
		}
	}
	return nil
}

func (r *InterestRegister) Create(ctx context.Context, in InterestInput, actorID uuid.UUID) (*models.HistoricalInterest, error) {
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}
	now := r.now()
	h := &models.HistoricalInterest{
		ID:           uuid.New(),
		Amount:       in.Amount,
		InterestDate: in.InterestDate.UTC(),
		Source:       in.Source,
		Description:  in.Description,
		BorrowerID:   in.BorrowerID,
		RecordedBy:   actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.storage.CreateHistoricalInterest(ctx, h); err != nil {
		return nil, err
	}
	r.logger.Info("historical interest recorded",
		zap.String("id", h.ID.String()),
		zap.String("amount", h.Amount.String()),
		zap.String("source", string(h.Source)))
	return h, nil
}

func (r *InterestRegister) Update(ctx context.Context, id uuid.UUID, in InterestInput, actorID uuid.UUID) (*models.HistoricalInterest, error) {
	if err := r.check(ctx, in); err != nil {
		return nil, err
	}
	h, err := r.storage.GetHistoricalInterest(ctx, id)
	if err != nil {
		return nil, err
	}
	h.Amount = in.Amount
	h.InterestDate = in.InterestDate.UTC()
	h.Source = in.Source
	h.Description = in.Description
	h.BorrowerID = in.BorrowerID
	h.RecordedBy = actorID
	h.UpdatedAt = r.now()
	if err := r.storage.UpdateHistoricalInterest(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *InterestRegister) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.storage.DeleteHistoricalInterest(ctx, id); err != nil {
		return err
	}
	r.logger.Info("historical interest deleted", zap.String("id", id.String()))
	return nil
}

func (r *InterestRegister) Get(ctx context.Context, id uuid.UUID) (*models.HistoricalInterest, error) {
	return r.storage.GetHistoricalInterest(ctx, id)
}

func (r *InterestRegister) List(ctx context.Context) ([]*models.HistoricalInterest, error) {
	return r.storage.ListHistoricalInterest(ctx)
}
