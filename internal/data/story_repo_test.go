package data

import (
	"context"
	"testing"

	"media-dispatch-service/internal/data/model"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoryRepo(t *testing.T) {
	d, _ := newTestData(t)
	repo := NewStoryRepo(d, log.DefaultLogger)
	ctx := context.Background()

	seedStory(t, d, 1, 7,
		model.Scene{ID: 12, Order: 3, Content: "c", IsActive: true},
		model.Scene{ID: 10, Order: 1, Content: "a", IsActive: true},
		model.Scene{ID: 11, Order: 2, Content: "b", IsActive: false},
		model.Scene{ID: 13, Order: 2, Content: "d", IsActive: true},
	)

	story, err := repo.GetStory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), story.AuthorID)
	assert.True(t, story.IsActive)

	scene, err := repo.GetScene(ctx, 1, 12)
	require.NoError(t, err)
	assert.Equal(t, "c", scene.Content)
	assert.Equal(t, 3, scene.Order)

	_, err = repo.GetScene(ctx, 2, 12)
	assert.True(t, mediaErrors.IsNotFound(err))
	_, err = repo.GetStory(ctx, 2)
	assert.True(t, mediaErrors.IsNotFound(err))

	scenes, err := repo.ListActiveScenes(ctx, 1)
	require.NoError(t, err)
	var ids []int64
	for _, s := range scenes {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int64{10, 13, 12}, ids)
}
