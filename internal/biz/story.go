package biz

import "context"

// Story 故事领域对象（只读，由内容服务维护）
type Story struct {
	ID       int64
	AuthorID int64
	Title    string
	IsActive bool
}

// Scene 场景领域对象
type Scene struct {
	ID               int64
	StoryID          int64
	Title            string
	Content          string // 旁白文本，音频按其字符数计价
	SceneDescription string
	Order            int
	IsActive         bool
}

// StoryRepo 故事/场景数据层接口
// 不存在时返回 NotFound 错误
type StoryRepo interface {
	GetStory(ctx context.Context, storyID int64) (*Story, error)
	GetScene(ctx context.Context, storyID, sceneID int64) (*Scene, error)
	// ListActiveScenes 按 order 升序返回激活场景
	ListActiveScenes(ctx context.Context, storyID int64) ([]*Scene, error)
}
