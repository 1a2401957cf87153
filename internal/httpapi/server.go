// Package httpapi is the inbound HTTP surface: routing, request-id and
// CORS middleware, and the handlers that drive the converters and the
// streaming processor. Everything protocol-shaped lives in the internal
// packages it glues together; this package only adapts them to gin.
package httpapi

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencc/proxy/internal/convert"
	"github.com/opencc/proxy/internal/metrics"
	"github.com/opencc/proxy/internal/providerfactory"
)

// Config carries the edge's tunables.
type Config struct {
	// DefaultMode selects the provider for requests that don't name one.
	DefaultMode string
	// ModelTable maps Protocol-A model patterns to upstream model ids.
	ModelTable convert.ModelTable
	// RequestTimeout bounds a unary upstream round trip.
	RequestTimeout time.Duration
	// StreamTimeout bounds an entire streaming response.
	StreamTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = 5 * time.Minute
	}
}

// Server wires the provider factory and metrics recorder into the router.
type Server struct {
	cfg      Config
	factory  *providerfactory.Factory
	recorder *metrics.Recorder
}

// New builds a Server. recorder may be nil; metrics are then skipped.
func New(cfg Config, factory *providerfactory.Factory, recorder *metrics.Recorder) *Server {
	cfg.applyDefaults()
	return &Server{cfg: cfg, factory: factory, recorder: recorder}
}

// Router builds the gin engine with every route of the external interface.
func Router(s *Server) *gin.Engine {
	if strings.EqualFold(os.Getenv("ENV"), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), CORS())

	r.POST("/v1/messages", s.handleMessages)
	r.GET("/v1/models", s.handleModels)
	r.GET("/health", s.handleHealth)
	r.GET("/health/ready", s.handleReady)
	r.GET("/health/live", s.handleLive)
	r.Any("/", s.handleRoot)

	return r
}
