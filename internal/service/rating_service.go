package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"timebank/internal/model"
	"timebank/internal/repository"
	"timebank/pkg/logger"
	"timebank/pkg/validator"
)

// RatingService accepts feedback on completed sessions. It has no ledger effect.
type RatingService struct {
	db          *gorm.DB
	sessionRepo *repository.SessionRepository
	ratingRepo  *repository.RatingRepository
}

func NewRatingService(db *gorm.DB) *RatingService {
	return &RatingService{
		db:          db,
		sessionRepo: repository.NewSessionRepository(db),
		ratingRepo:  repository.NewRatingRepository(db),
	}
}

type RateRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	RaterID   string `json:"rater_id" validate:"required"`
	RatedID   string `json:"rated_id" validate:"required"`
	Score     int    `json:"score" validate:"gte=1,lte=5"`
	Feedback  string `json:"feedback" validate:"max=2000"`
}

// Submit stores one rating from RaterID about RatedID. The session must be
// completed, RatedID must be RaterID's counterparty on it, and a rater rates a
// session at most once.
func (s *RatingService) Submit(ctx context.Context, req *RateRequest) (*model.Rating, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}

	rating := &model.Rating{
		SessionID: req.SessionID,
		RaterID:   req.RaterID,
		RatedID:   req.RatedID,
		Score:     req.Score,
		Feedback:  req.Feedback,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessionRepo.GetByID(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if session.Status != model.SessionStatusCompleted {
			return fmt.Errorf("%w: session %s is %s, only completed sessions can be rated",
				model.ErrInvalidState, session.ID, session.Status)
		}
		if !session.IsParticipant(req.RaterID) || session.Counterparty(req.RaterID) != req.RatedID {
			return fmt.Errorf("%w: session %s", model.ErrInvalidCounterparty, session.ID)
		}

		exists, err := s.ratingRepo.Exists(ctx, tx, req.SessionID, req.RaterID)
		if err != nil {
			return err
		}
		if exists {
			return model.ErrDuplicateRating
		}
		return s.ratingRepo.Create(ctx, tx, rating)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("session_id", rating.SessionID).
		Str("rater_id", rating.RaterID).
		Int("score", rating.Score).
		Msg("rating submitted")
	return rating, nil
}

type RatingPage struct {
	List     []*model.Rating      `json:"list"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
	Summary  *model.RatingSummary `json:"summary"`
}

// ListForUser returns the ratings ratedID has received with their summary.
func (s *RatingService) ListForUser(ctx context.Context, ratedID string, page, pageSize int) (*RatingPage, error) {
	page, pageSize = normalizePage(page, pageSize)

	ratings, total, err := s.ratingRepo.ListByRated(ctx, ratedID, page, pageSize)
	if err != nil {
		return nil, err
	}
	summary, err := s.Summary(ctx, ratedID)
	if err != nil {
		return nil, err
	}
	return &RatingPage{List: ratings, Total: total, Page: page, PageSize: pageSize, Summary: summary}, nil
}

func (s *RatingService) Summary(ctx context.Context, ratedID string) (*model.RatingSummary, error) {
	return s.ratingRepo.Summary(ctx, ratedID)
}
