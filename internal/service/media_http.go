package service

import (
	"context"
	"strconv"

	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationMediaServiceGenerateSceneImage = "/media.v1.MediaService/GenerateSceneImage"
	OperationMediaServiceGenerateSceneAudio = "/media.v1.MediaService/GenerateSceneAudio"
	OperationMediaServiceGenerateBulkImage  = "/media.v1.MediaService/GenerateBulkImage"
	OperationMediaServiceGenerateBulkAudio  = "/media.v1.MediaService/GenerateBulkAudio"
	OperationMediaServiceRequestPreview     = "/media.v1.MediaService/RequestPreview"
	OperationMediaServiceGetPreviewStatus   = "/media.v1.MediaService/GetPreviewStatus"
	OperationMediaServiceGetJob             = "/media.v1.MediaService/GetJob"
	OperationMediaServiceCancelJob          = "/media.v1.MediaService/CancelJob"
	OperationMediaServiceGetBalance         = "/media.v1.MediaService/GetBalance"
	OperationMediaServiceListTransactions   = "/media.v1.MediaService/ListTransactions"

	OperationMediaInternalServiceOpenAccount     = "/media.v1.MediaInternalService/OpenAccount"
	OperationMediaInternalServiceGrantCredits    = "/media.v1.MediaInternalService/GrantCredits"
	OperationMediaInternalServiceReportJobStatus = "/media.v1.MediaInternalService/ReportJobStatus"
)

// MediaServicePrefix 需要用户令牌的接口
const MediaServicePrefix = "/media.v1.MediaService/"

// MediaInternalServicePrefix 需要内部令牌的接口
const MediaInternalServicePrefix = "/media.v1.MediaInternalService/"

// RegisterMediaServiceHTTPServer 注册面向前端的路由
func RegisterMediaServiceHTTPServer(s *http.Server, srv *MediaService) {
	r := s.Route("/")
	r.POST("/api/v1/stories/{story_id}/scenes/{scene_id}/generate-image", generateSceneImageHandler(srv))
	r.POST("/api/v1/stories/{story_id}/scenes/{scene_id}/generate-audio", generateSceneAudioHandler(srv))
	r.POST("/api/v1/stories/{story_id}/generate-bulk-image", generateBulkImageHandler(srv))
	r.POST("/api/v1/stories/{story_id}/generate-bulk-audio", generateBulkAudioHandler(srv))
	r.POST("/api/v1/stories/{story_id}/preview-pdf", requestPreviewHandler(srv, "pdf"))
	r.POST("/api/v1/stories/{story_id}/preview-audio", requestPreviewHandler(srv, "audio"))
	r.POST("/api/v1/stories/{story_id}/preview-video", requestPreviewHandler(srv, "video"))
	r.GET("/api/v1/stories/{story_id}/preview-status/{job_id}", getPreviewStatusHandler(srv))
	r.GET("/api/v1/jobs/{job_id}", getJobHandler(srv))
	r.POST("/api/v1/jobs/{job_id}/cancel", cancelJobHandler(srv))
	r.GET("/api/v1/credits", getBalanceHandler(srv))
	r.GET("/api/v1/credits/transactions", listTransactionsHandler(srv))
}

// RegisterMediaInternalServiceHTTPServer 注册内部路由
func RegisterMediaInternalServiceHTTPServer(s *http.Server, srv *MediaInternalService) {
	r := s.Route("/")
	r.POST("/internal/v1/credits/accounts", openAccountHandler(srv))
	r.POST("/internal/v1/credits/grant", grantCreditsHandler(srv))
	r.POST("/internal/v1/jobs/{job_id}/status", reportJobStatusHandler(srv))
}

func pathInt64(ctx http.Context, name string) (int64, error) {
	raw := ctx.Vars().Get(name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mediaErrors.Validation("invalid %s %q", name, raw)
	}
	return v, nil
}

func queryInt(ctx http.Context, name string) (int, error) {
	raw := ctx.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, mediaErrors.Validation("invalid %s %q", name, raw)
	}
	return v, nil
}

func generateSceneImageHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GenerateSceneImageRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		if in.SceneID, err = pathInt64(ctx, "scene_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceGenerateSceneImage)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GenerateSceneImage(ctx, req.(*GenerateSceneImageRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func generateSceneAudioHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GenerateSceneAudioRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		if in.SceneID, err = pathInt64(ctx, "scene_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceGenerateSceneAudio)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GenerateSceneAudio(ctx, req.(*GenerateSceneAudioRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func generateBulkImageHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GenerateBulkImageRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceGenerateBulkImage)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GenerateBulkImage(ctx, req.(*GenerateBulkImageRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func generateBulkAudioHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GenerateBulkAudioRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceGenerateBulkAudio)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GenerateBulkAudio(ctx, req.(*GenerateBulkAudioRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func requestPreviewHandler(srv *MediaService, kind string) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := PreviewRequest{Kind: kind}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceRequestPreview)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RequestPreview(ctx, req.(*PreviewRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getPreviewStatusHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := PreviewStatusRequest{JobID: ctx.Vars().Get("job_id")}
		var err error
		if in.StoryID, err = pathInt64(ctx, "story_id"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceGetPreviewStatus)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetPreviewStatus(ctx, req.(*PreviewStatusRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getJobHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := JobRequest{JobID: ctx.Vars().Get("job_id")}
		http.SetOperation(ctx, OperationMediaServiceGetJob)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetJob(ctx, req.(*JobRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func cancelJobHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := JobRequest{JobID: ctx.Vars().Get("job_id")}
		http.SetOperation(ctx, OperationMediaServiceCancelJob)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CancelJob(ctx, req.(*JobRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func getBalanceHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationMediaServiceGetBalance)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetBalance(ctx, req.(*struct{}))
		})
		out, err := h(ctx, &struct{}{})
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func listTransactionsHandler(srv *MediaService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListTransactionsRequest
		var err error
		if in.Page, err = queryInt(ctx, "page"); err != nil {
			return err
		}
		if in.PageSize, err = queryInt(ctx, "page_size"); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaServiceListTransactions)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListTransactions(ctx, req.(*ListTransactionsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func openAccountHandler(srv *MediaInternalService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in OpenAccountRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaInternalServiceOpenAccount)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.OpenAccount(ctx, req.(*OpenAccountRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func grantCreditsHandler(srv *MediaInternalService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GrantCreditsRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationMediaInternalServiceGrantCredits)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GrantCredits(ctx, req.(*GrantCreditsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func reportJobStatusHandler(srv *MediaInternalService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ReportJobStatusRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.JobID = ctx.Vars().Get("job_id")
		http.SetOperation(ctx, OperationMediaInternalServiceReportJobStatus)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ReportJobStatus(ctx, req.(*ReportJobStatusRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
