package sqlite

import (
	"context"
	"errors"
	"time"

	"upbitmt/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ruleStateRepository struct {
	db *gorm.DB
}

func NewRuleStateRepo(db *gorm.DB) *ruleStateRepository {
	return &ruleStateRepository{db: db}
}

// Save upserts by rule_id. created_at is kept from the first insert.
func (r *ruleStateRepository) Save(ctx context.Context, state *model.RuleStateModel) error {
	if state == nil {
		return errors.New("rule state cannot be nil")
	}
	now := time.Now()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = now
	}
	state.UpdatedAtUnix = state.UpdatedAt.Unix()
	if state.CreatedAtUnix == 0 {
		state.CreatedAtUnix = now.Unix()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"market", "trade_type", "state", "retry_count", "baseline", "has_baseline",
			"order_id", "last_error", "needs_reconcile", "rule_json", "updated_at",
		}),
	}).Create(state).Error
}

func (r *ruleStateRepository) FindByRuleID(ctx context.Context, ruleID string) (*model.RuleStateModel, error) {
	var state model.RuleStateModel
	err := r.db.WithContext(ctx).Where("rule_id = ?", ruleID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *ruleStateRepository) List(ctx context.Context) ([]model.RuleStateModel, error) {
	var states []model.RuleStateModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}
