package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	wsH *WSHandler,
	healthH *HealthHandler,
	metricsHandler http.Handler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging y recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	// Las rutas aceptan la barra final opcional; una redireccion rompe el handshake websocket.
	ws := r.Group("/ws")
	for _, path := range []string{"/connect", "/connect/"} {
		ws.GET(path, wsH.Connect)
	}
	for _, path := range []string{"/scan/connect/:did", "/scan/connect/:did/"} {
		ws.GET(path, wsH.Scan)
	}
	for _, path := range []string{"/chat/p2p", "/chat/p2p/"} {
		ws.GET(path, wsH.Chat)
	}

	r.GET("/healthz", jsonContentTypeMiddleware(), healthH.Health)
	if metricsHandler != nil {
		r.GET("/metrics", gin.WrapH(metricsHandler))
	}

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
