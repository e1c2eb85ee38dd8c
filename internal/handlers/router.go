package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faces-api/internal/logging"
	"github.com/example/faces-api/internal/usecase"
)

// NewRouter builds the gin engine with recovery, zap access logs and, when origins are given, CORS.
func NewRouter(uc *usecase.FaceUseCase, logger *zap.Logger, opts Options, corsOrigins []string) *gin.Engine {
	router := gin.New()
	_ = router.SetTrustedProxies(nil)
	router.Use(gin.Recovery(), logging.GinMiddleware(logger))

	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  corsOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE"},
			AllowHeaders:  []string{"Origin", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	if opts.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = opts.MaxUploadBytes
	} else {
		router.MaxMultipartMemory = MaxUploadSize
	}
	RegisterRoutes(router, uc, logger, opts)
	return router
}
