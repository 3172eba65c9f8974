package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"timebank/internal/model"
)

type RatingRepository struct {
	db *gorm.DB
}

func NewRatingRepository(db *gorm.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create inserts rating. A second rating for the same (session, rater) is
// rejected by the unique index and reported as model.ErrDuplicateRating.
func (r *RatingRepository) Create(ctx context.Context, tx *gorm.DB, rating *model.Rating) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(rating).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.ErrDuplicateRating
	}
	return err
}

func (r *RatingRepository) Exists(ctx context.Context, tx *gorm.DB, sessionID, raterID string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.Rating{}).
		Where("session_id = ? AND rater_id = ?", sessionID, raterID).
		Count(&count).Error
	return count > 0, err
}

// ListByRated returns ratings received by ratedID, newest first.
func (r *RatingRepository) ListByRated(ctx context.Context, ratedID string, page, pageSize int) ([]*model.Rating, int64, error) {
	var ratings []*model.Rating
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Rating{}).Where("rated_id = ?", ratedID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&ratings).Error

	return ratings, total, err
}

func (r *RatingRepository) Summary(ctx context.Context, ratedID string) (*model.RatingSummary, error) {
	var row struct {
		Count   int64
		Average float64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Rating{}).
		Select("COUNT(*) AS count, COALESCE(AVG(score), 0) AS average").
		Where("rated_id = ?", ratedID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &model.RatingSummary{UserID: ratedID, Count: row.Count, Average: row.Average}, nil
}
