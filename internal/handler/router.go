package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/events"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/persona"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/session"
	settingsHandler "github.com/zhouzirui/z-tavern/roleplay/internal/handler/settings"
	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/speech"
	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-tavern/roleplay/internal/middleware"
	personaModel "github.com/zhouzirui/z-tavern/roleplay/internal/model/persona"
	chatService "github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Deps 汇总路由所需的服务。Voices 与 Metrics 可以为空。
type Deps struct {
	Personas    personaModel.Store
	Session     *chatService.Session
	Player      speech.Player
	Voices      speech.VoiceCatalog
	Settings    *settingsHandler.Handler
	Bus         events.Subscriber
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	CORSOrigins []string
	// Health 补充 /healthz 的返回字段
	Health func() map[string]any
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(middlewarePkg.CORSOptions{AllowedOrigins: deps.CORSOrigins}))
	r.Use(deps.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Health != nil {
			for k, v := range deps.Health() {
				body[k] = v
			}
		}
		utils.RespondJSON(w, http.StatusOK, body)
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		session.New(deps.Session, deps.Personas, logger).RegisterRoutes(api)

		if deps.Settings != nil {
			deps.Settings.RegisterRoutes(api)
		}
		if deps.Player != nil {
			speech.New(deps.Player, deps.Voices, deps.Session, logger).RegisterRoutes(api)
		}
		if deps.Bus != nil {
			events.New(deps.Bus, logger).RegisterRoutes(api)
		}
	})

	return r
}
