package status

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the status API: GET /health and GET /status.
func NewRouter(tracker *Tracker) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": tracker.Uptime().String(),
		})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, tracker.Snapshot())
	})

	return router
}

// NewServer wraps the router in an http.Server bound to the given port.
func NewServer(port int, tracker *Tracker) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewRouter(tracker),
	}
}

// Serve runs the server, logging instead of failing when it stops.
func Serve(srv *http.Server, logger *logrus.Logger) {
	logger.WithField("addr", srv.Addr).Info("Status server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("Status server stopped")
	}
}
