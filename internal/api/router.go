package api

import (
	"blogcore/internal/metrics"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(opsHandler *OpsHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetTrustedProxies(nil)

	r.GET("/healthz", opsHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	ops := r.Group("/v1/ops")
	{
		ops.GET("/outbox/stats", opsHandler.OutboxStats)
		ops.GET("/outbox/dead-letters", opsHandler.DeadLetters)
	}

	return r
}
