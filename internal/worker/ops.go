package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mxverify/mxverify/internal/learning"
)

// NewOpsRouter builds the worker's operational surface: Prometheus metrics
// and a live snapshot of the adaptive learning state, for inspecting which
// MX domains have drifted from their classified profiles.
func NewOpsRouter(store *learning.Store) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/learning", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"domains": store.Snapshot()})
	})

	return router
}
