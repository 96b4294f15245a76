package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hoardline/taskcore/internal/api/middleware"
)

// NewRouter assembles the management API routes.
func NewRouter(tasks *TaskHandler, ops *OpsHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", tasks.CreateBatch)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", tasks.GetTask)
			r.Delete("/", tasks.DeleteTask)
			r.Post("/cancel", tasks.CancelTask)
			r.Post("/retry", tasks.RetryTask)
		})
	})

	r.Get("/workers", ops.ListWorkers)
	r.Route("/queues", func(r chi.Router) {
		r.Get("/", ops.ListQueues)
		r.Post("/{name}/suspend", ops.SuspendQueue)
		r.Post("/{name}/resume", ops.ResumeQueue)
	})
	r.Get("/health", ops.HealthCheck)

	return r
}
