package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotkeeper/internal/config"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
	"slotkeeper/internal/service"
	"slotkeeper/internal/timezone"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

type SlotFinder interface {
	AvailableSlots(ctx context.Context, slug string, date timezone.Date) ([]time.Time, error)
}

type Reserver interface {
	Reserve(ctx context.Context, req service.ReservationRequest) (*service.ReservationResult, error)
}

type BookingManager interface {
	GetBooking(ctx context.Context, ownerID string, id int64) (*models.BookingView, error)
	ListBookings(ctx context.Context, ownerID string) ([]*models.BookingView, error)
	UpdateBooking(ctx context.Context, ownerID string, id int64, changes models.BookingChanges) (*models.Booking, error)
	DeleteBooking(ctx context.Context, ownerID string, id int64) error
}

type EventTypeManager interface {
	CreateEventType(ctx context.Context, ownerID string, et *models.EventType) (*models.EventType, error)
	UpdateEventType(ctx context.Context, ownerID string, id int64, changes service.EventTypeChanges) (*models.EventType, error)
	GetEventType(ctx context.Context, ownerID string, id int64) (*models.EventType, error)
	ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error)
	PublicEventType(ctx context.Context, slug string) (*models.EventType, error)
}

type ProfileManager interface {
	GetProfile(ctx context.Context, ownerID string) (*models.Owner, error)
	UpdateProfile(ctx context.Context, ownerID string, changes service.ProfileChanges) (*models.Owner, error)
	ResolveSlug(ctx context.Context, slug string) (*service.SlugResolution, error)
	ReservedSlugs() []string
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP routes.
type Deps struct {
	Slots         SlotFinder
	Reservations  Reserver
	Bookings      BookingManager
	EventTypes    EventTypeManager
	Profiles      ProfileManager
	Health        Pinger
	PublicLimiter domain.RateLimiter
}

// HTTPServer exposes the public booking API and the owner API.
type HTTPServer struct {
	cfg      config.APIConfig
	deps     Deps
	auth     *HTTPAuth
	public   *PublicLimiter
	validate *requestValidator
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:      cfg,
		deps:     deps,
		auth:     NewHTTPAuth(cfg),
		public:   NewPublicLimiter(deps.PublicLimiter, cfg.PublicRateLimit, &l),
		validate: newRequestValidator(),
		logger:   &l,
	}

	router := httprouter.New()
	srv.registerRoutes(router)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		l.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panic")
		writeError(w, http.StatusInternalServerError, "internal error")
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return srv
}

func (s *HTTPServer) registerRoutes(router *httprouter.Router) {
	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)

	router.GET("/api/v1/public/event-types/:slug", s.public.Wrap(s.handlePublicEventType))
	router.GET("/api/v1/public/event-types/:slug/slots", s.public.Wrap(s.handleSlots))
	router.POST("/api/v1/public/bookings", s.public.Wrap(s.handleReserve))
	router.GET("/api/v1/public/profiles/reserved-slugs", s.public.Wrap(s.handleReservedSlugs))
	router.GET("/api/v1/public/profiles/by-slug/:slug", s.public.Wrap(s.handleProfileBySlug))

	router.GET("/api/v1/owner/me", s.auth.Owner(s.handleGetProfile))
	router.PATCH("/api/v1/owner/me", s.auth.Owner(s.handleUpdateProfile))

	router.GET("/api/v1/owner/event-types", s.auth.Owner(s.handleListEventTypes))
	router.POST("/api/v1/owner/event-types", s.auth.Owner(s.handleCreateEventType))
	router.GET("/api/v1/owner/event-types/:id", s.auth.Owner(s.handleGetEventType))
	router.PATCH("/api/v1/owner/event-types/:id", s.auth.Owner(s.handleUpdateEventType))

	router.GET("/api/v1/owner/bookings", s.auth.Owner(s.handleListBookings))
	router.GET("/api/v1/owner/bookings/:id", s.auth.Owner(s.handleGetBooking))
	router.PATCH("/api/v1/owner/bookings/:id", s.auth.Owner(s.handleUpdateBooking))
	router.DELETE("/api/v1/owner/bookings/:id", s.auth.Owner(s.handleDeleteBooking))
}

// Handler is the full middleware-wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

const requestIDHeader = "X-Request-Id"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		metrics.ObserveHTTP(routeLabel(r.URL.Path), r.Method, recorder.status, dur)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

// routeLabel collapses ids and slugs so metric cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/public/event-types/") && strings.HasSuffix(path, "/slots"):
		return "/api/v1/public/event-types/:slug/slots"
	case strings.HasPrefix(path, "/api/v1/public/event-types/"):
		return "/api/v1/public/event-types/:slug"
	case strings.HasPrefix(path, "/api/v1/owner/event-types/"):
		return "/api/v1/owner/event-types/:id"
	case strings.HasPrefix(path, "/api/v1/owner/bookings/"):
		return "/api/v1/owner/bookings/:id"
	case strings.HasPrefix(path, "/api/v1/public/profiles/by-slug/"):
		return "/api/v1/public/profiles/by-slug/:slug"
	case path == "/api/v1/public/bookings", path == "/api/v1/owner/event-types",
		path == "/api/v1/owner/bookings", path == "/api/v1/owner/me",
		path == "/api/v1/public/profiles/reserved-slugs", path == "/healthz", path == "/readyz":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
