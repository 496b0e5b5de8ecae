package server

import (
	"gembalance-go/internal/config"
	"gembalance-go/internal/credential"
	"gembalance-go/internal/handlers/health"
	mw "gembalance-go/internal/middleware"
	"gembalance-go/internal/relay"
	"gembalance-go/internal/storage"
	upgem "gembalance-go/internal/upstream/gemini"
	"gembalance-go/internal/web"
	"github.com/gin-gonic/gin"
)

// Dependencies bundles the runtime services the HTTP engine is built from.
type Dependencies struct {
	Pool    *credential.Pool
	Client  *upgem.Client
	Storage storage.Backend
}

// Build assembles the gin engine: proxy routes under /v1beta, health
// endpoints, and the cookie-authenticated dashboard.
func Build(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.Recovery(), mw.RequestID(), mw.RequestLogger(), mw.CORS())
	engine.SetHTMLTemplate(web.Templates())

	relayHandler := relay.NewHandler(deps.Pool, deps.Client, cfg.Models)
	relayHandler.Register(engine.Group("/v1beta"))

	health.NewHandler(deps.Pool, deps.Storage).Register(engine)
	web.NewHandler(cfg, deps.Pool).Register(engine)

	return engine
}
