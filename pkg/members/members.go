// Package members keeps the member directory.
package members

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/poolfund/pkg/apperr"
	"github.com/mcclellann/poolfund/pkg/models"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/mcclellann/poolfund/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// RegisterInput creates a member. Email and password come together: with
// both the member can log in, with neither the member is kept for records
// only.
type RegisterInput struct {
	FullName string      `json:"full_name" validate:"required,max=200"`
	Phone    string      `json:"phone" validate:"max=30"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=admin member"`
	Email    string      `json:"email" validate:"omitempty,email"`
	Password string      `json:"password" validate:"omitempty,min=8,max=72"`
	JoinedAt *time.Time  `json:"joined_at"`
}

type Directory struct {
	storage  store.Storage
	validate *validation.Validator
	logger   *zap.Logger
	cost     int
	now      func() time.Time
}

// NewDirectory returns a Directory hashing passwords at the given bcrypt
// cost. Zero means bcrypt.DefaultCost.
func NewDirectory(s store.Storage, logger *zap.Logger, cost int) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Directory{
		storage:  s,
		validate: validation.New(),
		logger:   logger,
		cost:     cost,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Directory) Register(ctx context.Context, in RegisterInput) (*models.Member, error) {
	if err := d.validate.Struct(in); err != nil {
		return nil, err
	}
	if (in.Email == "") != (in.Password == "") {
		return nil, apperr.Validation("email and password must be given together")
	}

	m := &models.Member{
		ID:       uuid.New(),
		FullName: strings.TrimSpace(in.FullName),
		Phone:    in.Phone,
		Role:     in.Role,
		Active:   true,
		JoinedAt: d.now(),
		Access:   models.RecordOnly{},
	}
	if m.Role == "" {
		m.Role = models.RoleMember
	}
	if in.JoinedAt != nil {
		m.JoinedAt = in.JoinedAt.UTC()
	}
	if in.Email != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), d.cost)
		if err != nil {
			return nil, apperr.Internal(err, "failed to hash password")
		}
		m.Access = models.LoginCapable{Email: strings.ToLower(in.Email), PasswordHash: string(hash)}
	}

	if err := d.storage.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	d.logger.Info("member registered",
		zap.String("member_id", m.ID.String()),
		zap.String("access", m.AccessKind()))
	return m, nil
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	return d.storage.GetMember(ctx, id)
}

func (d *Directory) List(ctx context.Context, activeOnly bool) ([]*models.Member, error) {
	return d.storage.ListMembers(ctx, activeOnly)
}
