package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencc/proxy/internal/credentials"
	"github.com/opencc/proxy/internal/logging"
)

// modelEntry is one row of GET /v1/models.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists the upstream-native models plus the Protocol-A model
// aliases the mapping table accepts.
func (s *Server) handleModels(c *gin.Context) {
	mode := c.GetHeader(modeHeader)
	if mode == "" {
		mode = s.cfg.DefaultMode
	}

	var data []modelEntry
	now := time.Now().Unix()

	prov, err := s.factory.Get(c.Request.Context(), mode)
	if err == nil {
		models, err := prov.GetModels(c.Request.Context())
		if err != nil {
			logging.Warnf("models: upstream listing failed for mode %q: %v", mode, err)
		}
		for _, m := range models {
			created := m.Created
			if created == 0 {
				created = now
			}
			data = append(data, modelEntry{ID: m.ID, Object: "model", Created: created, OwnedBy: m.OwnedBy})
		}
	}

	for _, mapping := range s.cfg.ModelTable {
		if len(mapping.Pattern) >= 2 && mapping.Pattern[0] == '/' {
			continue // regex patterns aren't enumerable aliases
		}
		data = append(data, modelEntry{ID: mapping.Pattern, Object: "model", Created: now, OwnedBy: "opencc"})
	}

	if data == nil {
		data = []modelEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// credentialStatuser is implemented by backends whose auth rides on an
// OAuth credential store.
type credentialStatuser interface {
	CredentialStatus() credentials.Status
}

func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{
		"api_server":          "ok",
		"credentials":         "ok",
		"model_configuration": "ok",
	}
	degraded := false

	prov, err := s.factory.Get(c.Request.Context(), s.cfg.DefaultMode)
	switch {
	case err != nil:
		checks["credentials"] = "unavailable"
		degraded = true
	default:
		if cs, ok := prov.(credentialStatuser); ok {
			status := cs.CredentialStatus()
			switch {
			case !status.HasCredentials:
				checks["credentials"] = "missing"
				degraded = true
			case status.IsExpired:
				checks["credentials"] = "expired"
				degraded = true
			}
		} else if _, err := prov.GetAuthHeaders(c.Request.Context()); err != nil {
			checks["credentials"] = "unavailable"
			degraded = true
		}
	}

	status, code := "healthy", http.StatusOK
	if degraded {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

func (s *Server) handleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "OpenCC")
}
