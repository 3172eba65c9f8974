package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"timebank/internal/model"
)

// SkillRepository reads the skill catalog. The catalog service owns the
// table; nothing here writes to it.
type SkillRepository struct {
	db *gorm.DB
}

func NewSkillRepository(db *gorm.DB) *SkillRepository {
	return &SkillRepository{db: db}
}

// TeacherOf returns the teacher offering skillID.
func (r *SkillRepository) TeacherOf(ctx context.Context, skillID string) (string, error) {
	var skill model.Skill
	err := r.db.WithContext(ctx).Select("id", "teacher_id").Where("id = ?", skillID).First(&skill).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("skill %s: %w", skillID, model.ErrNotFound)
		}
		return "", err
	}
	return skill.TeacherID, nil
}
