package http

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"live-quiz-service/internal/app"
)

// RouterOptions configure the HTTP surface around the core.
type RouterOptions struct {
	Auth        *Authenticator
	CORSOrigins []string
	Logger      *log.Logger
	Now         func() time.Time
}

// Server holds the handlers of the HTTP and websocket surface.
type Server struct {
	core   *app.Core
	logger *log.Logger
	now    func() time.Time
	ws     *WSHandler
}

func NewServer(core *app.Core, opts RouterOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		core:   core,
		logger: opts.Logger,
		now:    opts.Now,
		ws:     NewWSHandler(core.Dispatcher, opts.Logger),
	}
}

// NewRouter builds the chi router. Every /api and /ws route requires a token.
func NewRouter(core *app.Core, opts RouterOptions) http.Handler {
	s := NewServer(core, opts)
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		r.Get("/ws", s.ws.ServeWS)

		r.Route("/api", func(r chi.Router) {
			r.Post("/quizdata", s.quizData)

			r.Post("/instances", s.createInstance)
			r.Get("/instances/{id}", s.getInstance)
			r.Put("/instances/{id}", s.updateInstance)
			r.Get("/instances/{id}/questions", s.listQuestions)
			r.Post("/instances/{id}/questions", s.addQuestion)
			r.Put("/instances/{id}/questions/order", s.reorderQuestions)
			r.Post("/instances/{id}/sessions", s.createSession)

			r.Post("/questions/{id}/move", s.moveQuestion)
			r.Put("/questions/{id}/points", s.updatePoints)
			r.Delete("/questions/{id}", s.removeQuestion)

			r.Get("/sessions/{id}/status", s.sessionStatus)
			r.Post("/sessions/{id}/join", s.joinSession)
			r.Post("/sessions/{id}/close", s.closeSession)

			r.Get("/attempts/{id}/review", s.reviewAttempt)
		})
	})
	return r
}
