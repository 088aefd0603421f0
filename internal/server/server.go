package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — операторская консоль ядра поверх chi.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *AuthHandler    // /auth/token
	agentHandler   *AgentHandler   // /v1/agents
	triggerHandler *TriggerHandler // /v1/triggers
	auditHandler   *AuditHandler   // /v1/audit
	eventHandler   *EventHandler   // /v1/events, /v1/messages
}

// New собирает сервер консоли со всеми зависимостями.
func New(
	cfg *infra.Config,
	logger *zap.Logger,
	kernel *engine.Kernel,
	authService *auth.Service,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		authValidator:  authService,
		authHandler:    NewAuthHandler(authService),
		agentHandler:   NewAgentHandler(kernel),
		triggerHandler: NewTriggerHandler(kernel),
		auditHandler:   NewAuditHandler(kernel),
		eventHandler:   NewEventHandler(kernel),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// Вебхуки аутентифицируются собственным bearer-токеном триггера,
		// операторский JWT им не нужен
		r.Post("/v1/events/webhook/{token}", s.eventHandler.Webhook)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Жизненный цикл агентов
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)    // Список всех агентов
			r.Post("/", s.agentHandler.Spawn)  // Верификация манифеста + spawn
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Delete("/", s.agentHandler.Kill)          // Терминально, без воскрешения
				r.Post("/pause", s.agentHandler.Pause)
				r.Post("/resume", s.agentHandler.Resume)
				r.Put("/manifest", s.agentHandler.UpdateManifest) // Аудируемая смена capabilities
			})
		})

		// Триггеры (event -> authorized action)
		r.Route("/v1/triggers", func(r chi.Router) {
			r.Get("/", s.triggerHandler.List)
			r.Post("/", s.triggerHandler.Register)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.triggerHandler.Get)
				r.Delete("/", s.triggerHandler.Unregister)
				r.Post("/enable", s.triggerHandler.Enable)
				r.Post("/disable", s.triggerHandler.Disable)
			})
		})

		// Цепочка аудита (Observability)
		r.Get("/v1/audit", s.auditHandler.Query)
		r.Post("/v1/audit/verify", s.auditHandler.Verify)

		// Нормализованные сообщения от адаптеров
		r.Post("/v1/messages", s.eventHandler.Message)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
