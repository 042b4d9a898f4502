// Package subscription exposes a read-only view of the billing service's
// subscription state. Ledgerly's billing pipeline owns the subscriptions
// table; the quota engine only consults it when gating tier upgrades.
package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Plan describes a user's active subscription plan.
type Plan struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Service answers subscription questions for the tier-upgrade path.
type Service interface {
	HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error)

	// ActivePlan returns the user's active plan, or nil if none.
	ActivePlan(ctx context.Context, userID uuid.UUID) (*Plan, error)
}

type postgresService struct {
	pool *pgxpool.Pool
}

// NewService creates a Service reading the billing-owned subscriptions table.
func NewService(pool *pgxpool.Pool) Service {
	return &postgresService{pool: pool}
}

func (s *postgresService) HasActiveSubscription(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM subscriptions
		   WHERE user_id = $1 AND status = 'active' AND current_period_end > NOW()
		 )`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking active subscription: %w", err)
	}
	return exists, nil
}

func (s *postgresService) ActivePlan(ctx context.Context, userID uuid.UUID) (*Plan, error) {
	var p Plan
	err := s.pool.QueryRow(ctx,
		`SELECT plan_name, status FROM subscriptions
		 WHERE user_id = $1 AND status = 'active' AND current_period_end > NOW()
		 ORDER BY current_period_end DESC
		 LIMIT 1`, userID).Scan(&p.Name, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying active plan: %w", err)
	}
	return &p, nil
}
