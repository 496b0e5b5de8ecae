// Package web serves the cookie-authenticated status dashboard: a login page
// and a credential-status view backed by the pool.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"gembalance-go/internal/config"
	"gembalance-go/internal/credential"
	"gembalance-go/internal/logging"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	authCookie    = "auth_token"
	authCookieTTL = 3600 // seconds
	dashboardPath = "/keys"
)

// Handler serves the dashboard routes.
type Handler struct {
	cfg  *config.Config
	pool *credential.Pool
}

// NewHandler builds the dashboard handler.
func NewHandler(cfg *config.Config, pool *credential.Pool) *Handler {
	return &Handler{cfg: cfg, pool: pool}
}

// Templates parses the embedded dashboard templates for engine installation.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// Register mounts the dashboard routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.loginPage)
	r.POST("/auth", h.authenticate)
	r.GET(dashboardPath, h.keysPage)
}

func (h *Handler) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{})
}

func (h *Handler) authenticate(c *gin.Context) {
	token := c.PostForm(authCookie)
	if token == "" {
		log.Warn("authentication attempt with empty token")
		c.Redirect(http.StatusFound, "/")
		return
	}
	if !config.CheckAuthToken(h.cfg, token) {
		logging.WithReq(c, nil).Warn("failed authentication attempt")
		c.Redirect(http.StatusFound, "/")
		return
	}
	log.Info("dashboard authentication succeeded")
	c.SetCookie(authCookie, token, authCookieTTL, "/", "", false, true)
	c.Redirect(http.StatusFound, dashboardPath)
}

func (h *Handler) keysPage(c *gin.Context) {
	token, err := c.Cookie(authCookie)
	if err != nil || !config.CheckAuthToken(h.cfg, token) {
		logging.WithReq(c, nil).Warn("unauthorized access attempt to keys page")
		c.Redirect(http.StatusFound, "/")
		return
	}

	valid, invalid, err := h.pool.KeysByStatus(c.Request.Context())
	if err != nil {
		logging.WithReq(c, nil).WithError(err).Error("failed to load key status")
		c.String(http.StatusInternalServerError, "failed to load key status")
		return
	}
	c.HTML(http.StatusOK, "keys.html", gin.H{
		"Valid":   valid,
		"Invalid": invalid,
		"Total":   len(valid) + len(invalid),
	})
}
