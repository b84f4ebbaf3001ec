package store

import (
	"context"
	"fmt"

	"upbitmt/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	RuleStates() RuleStateRepository
	Orders() OrderRepository
}

// Store is the entry point for database access.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	RuleStates() RuleStateRepository
	Orders() OrderRepository
	Close() error
}

// RuleStateRepository persists the runtime half of each rule, keyed by rule ID.
type RuleStateRepository interface {
	Save(ctx context.Context, state *model.RuleStateModel) error
	FindByRuleID(ctx context.Context, ruleID string) (*model.RuleStateModel, error)
	List(ctx context.Context) ([]model.RuleStateModel, error)
}

// OrderRepository persists one record per submission attempt, keyed by the
// client identifier.
type OrderRepository interface {
	Save(ctx context.Context, order *model.OrderModel) error
	FindByIdentifier(ctx context.Context, identifier string) (*model.OrderModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error)
	ListByRule(ctx context.Context, ruleID string) ([]model.OrderModel, error)
}

// WithTx runs fn in one transaction, committing on success.
func WithTx(ctx context.Context, s Store, fn func(UnitOfWork) error) (err error) {
	uow, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback()
			panic(p)
		}
	}()
	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return uow.Commit()
}
