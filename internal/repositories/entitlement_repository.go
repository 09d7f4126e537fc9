package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// EntitlementRepository reads guardian grants. The payment service writes
// them asynchronously; this core only ever reads the resulting entitlement.
type EntitlementRepository interface {
	GuardianUntil(ctx context.Context, accountID string) (time.Time, error)
}

// EntitlementRepo is a sqlx implementation of EntitlementRepository.
type EntitlementRepo struct {
	db *sqlx.DB
}

// NewEntitlementRepo constructs an EntitlementRepo.
func NewEntitlementRepo(db *sqlx.DB) *EntitlementRepo {
	return &EntitlementRepo{db: db}
}

// GuardianUntil returns the guardian expiry of an account, or the zero time
// when no grant exists.
func (r *EntitlementRepo) GuardianUntil(ctx context.Context, accountID string) (time.Time, error) {
	var until time.Time
	err := r.db.GetContext(ctx, &until, `SELECT guardian_until FROM guardian_grants WHERE account_id=$1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return until, err
}
