package sqlite

import (
	"context"
	"errors"
	"time"

	"upbitmt/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderRepository implements store.OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepo(db *gorm.DB) *orderRepository {
	return &orderRepository{db: db}
}

// Save upserts by identifier, so a reconciled order overwrites its unknown
// first record.
func (r *orderRepository) Save(ctx context.Context, order *model.OrderModel) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	if order.Identifier == "" {
		return errors.New("order identifier cannot be empty")
	}
	now := time.Now().Unix()
	order.UpdatedAtUnix = now
	if order.CreatedAtUnix == 0 {
		order.CreatedAtUnix = now
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "exchange_id", "error", "raw_response", "updated_at",
		}),
	}).Create(order).Error
}

func (r *orderRepository) FindByIdentifier(ctx context.Context, identifier string) (*model.OrderModel, error) {
	var order model.OrderModel
	err := r.db.WithContext(ctx).Where("identifier = ?", identifier).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListRecent lists the newest orders first.
func (r *orderRepository) ListRecent(ctx context.Context, limit int) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Order("submitted_at DESC, id DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *orderRepository) ListByRule(ctx context.Context, ruleID string) ([]model.OrderModel, error) {
	var orders []model.OrderModel
	if err := r.db.WithContext(ctx).
		Where("rule_id = ?", ruleID).
		Order("submitted_at ASC, id ASC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
