package data

import (
	"context"
	"errors"

	"media-dispatch-service/internal/biz"
	"media-dispatch-service/internal/data/model"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type storyRepo struct {
	data *Data
	log  *log.Helper
}

// NewStoryRepo 创建故事 repo（只读）
func NewStoryRepo(data *Data, logger log.Logger) biz.StoryRepo {
	return &storyRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (r *storyRepo) GetStory(ctx context.Context, storyID int64) (*biz.Story, error) {
	var m model.Story
	if err := r.data.DB(ctx).Where("id = ?", storyID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mediaErrors.NotFound("story %d not found", storyID)
		}
		return nil, mediaErrors.Database(err)
	}
	return &biz.Story{
		ID:       m.ID,
		AuthorID: m.AuthorID,
		Title:    m.Title,
		IsActive: m.IsActive,
	}, nil
}

func (r *storyRepo) GetScene(ctx context.Context, storyID, sceneID int64) (*biz.Scene, error) {
	var m model.Scene
	if err := r.data.DB(ctx).Where("id = ? AND story_id = ?", sceneID, storyID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mediaErrors.NotFound("scene %d not found", sceneID)
		}
		return nil, mediaErrors.Database(err)
	}
	return toBizScene(&m), nil
}

func (r *storyRepo) ListActiveScenes(ctx context.Context, storyID int64) ([]*biz.Scene, error) {
	var rows []*model.Scene
	err := r.data.DB(ctx).
		Where("story_id = ? AND is_active = ?", storyID, true).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "order"}}). // order 是保留字，交给方言加引号
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, mediaErrors.Database(err)
	}
	scenes := make([]*biz.Scene, 0, len(rows))
	for _, m := range rows {
		scenes = append(scenes, toBizScene(m))
	}
	return scenes, nil
}

func toBizScene(m *model.Scene) *biz.Scene {
	return &biz.Scene{
		ID:               m.ID,
		StoryID:          m.StoryID,
		Title:            m.Title,
		Content:          m.Content,
		SceneDescription: m.SceneDescription,
		Order:            m.Order,
		IsActive:         m.IsActive,
	}
}
