package server

import (
	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"
	"media-dispatch-service/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/auth/jwt"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// NewHTTPServer 创建 HTTP 服务器
func NewHTTPServer(
	c *conf.Bootstrap,
	media *service.MediaService,
	internal *service.MediaInternalService,
	logger log.Logger,
) *http.Server {
	var debug bool
	if c.Server != nil {
		debug = c.Server.Debug
	}
	var jwtSecret, internalToken string
	if c.Auth != nil {
		jwtSecret = c.Auth.JwtSecret
		internalToken = c.Auth.InternalToken
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
			ErrorSanitizer(debug, logger),
			// 用户接口：Bearer JWT (HS256, user_id)
			selector.Server(
				jwt.Server(
					func(token *jwtv5.Token) (interface{}, error) {
						return []byte(jwtSecret), nil
					},
					jwt.WithSigningMethod(jwtv5.SigningMethodHS256),
					jwt.WithClaims(service.NewClaims),
				),
			).Prefix(service.MediaServicePrefix).Build(),
			// 内部接口：X-Internal-Token
			selector.Server(
				InternalToken(internalToken),
			).Prefix(service.MediaInternalServicePrefix).Build(),
		),
		http.Filter(corsFilter(c.Server)),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if c.Server.Http.Timeout != nil {
			opts = append(opts, http.Timeout(c.Server.Http.Timeout.AsDuration()))
		}
	}
	srv := http.NewServer(opts...)
	srv.Handle("/metrics", promhttp.Handler())
	service.RegisterMediaServiceHTTPServer(srv, media)
	service.RegisterMediaInternalServiceHTTPServer(srv, internal)
	return srv
}

func corsFilter(c *conf.Server) http.FilterFunc {
	var origins []string
	if c != nil && c.Cors != nil {
		origins = c.Cors.AllowedOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", constants.HeaderInternalToken},
		AllowCredentials: true,
	}).Handler
}
