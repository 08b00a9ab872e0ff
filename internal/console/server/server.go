package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/console/handler"
	"github.com/xela07ax/neurohost/internal/console/service"
	"github.com/xela07ax/neurohost/internal/infra"
	"github.com/xela07ax/neurohost/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256).
	// Реализуется через embedding BaseValidator в AuthService
	authService *service.AuthService

	authHandler *handler.AuthHandler // /auth/token
	botHandler  *handler.BotHandler  // /v1/bots
}

// NewConsoleServer инициализирует HTTP-сервер консоли со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authService *service.AuthService,
	authH *handler.AuthHandler,
	botH *handler.BotHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:      chi.NewRouter(),
		logger:      logger.Named("console-api"),
		cfg:         cfg,
		authService: authService,
		authHandler: authH,
		botHandler:  botH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authService, s.logger))

		// Жизненный цикл ботов
		r.Route("/v1/bots", func(r chi.Router) {
			r.Get("/", s.botHandler.List)
			r.Post("/", s.botHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.botHandler.Get)              // Леджер + живая выборка с бэкенда
				r.Delete("/", s.botHandler.Delete)        // Стоп юнита + удаление записи
				r.Post("/start", s.botHandler.Start)      // Отказ для спящих и исчерпанных
				r.Post("/stop", s.botHandler.Stop)        // Graceful, затем kill
				r.Post("/add-time", s.botHandler.AddTime) // Пополнение в пределах тарифа
				r.Post("/add-power", s.botHandler.AddPower)
				r.Post("/recover", s.botHandler.Recover) // Ручное восстановление (раз в сутки)
				r.Get("/logs", s.botHandler.GetLogs)     // Журнал ошибок с пагинацией

				// Только для операторов платформы
				r.With(auth.RequireAdmin).Post("/sleep", s.botHandler.ForceSleep)
			})
		})

		// Сводка по парку (операторская)
		r.With(auth.RequireAdmin).Get("/v1/fleet/stats", s.botHandler.FleetStats)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
