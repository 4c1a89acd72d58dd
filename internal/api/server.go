package api

import (
	"context"
	"net/http"

	"competitor/scraper/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TaskService is the task registry as seen by the HTTP layer.
type TaskService interface {
	Submit(ctx context.Context, terms []string, minPerOrigin int) (domain.CrawlTask, error)
	Get(ctx context.Context, id string) (domain.CrawlTask, error)
	Results(ctx context.Context, id string) ([]domain.ProductRecord, error)
	Cancel(id string) error
}

type OriginHealthReporter interface {
	Snapshot() []domain.OriginHealth
}

type ProductLookup interface {
	Latest(ctx context.Context, productURL string) (*domain.ProductRecord, error)
}

type Server struct {
	router   *http.ServeMux
	tasks    TaskService
	origins  OriginHealthReporter
	products ProductLookup
}

func NewServer(tasks TaskService, origins OriginHealthReporter, products ProductLookup) *Server {
	server := &Server{
		router:   http.NewServeMux(),
		tasks:    tasks,
		origins:  origins,
		products: products,
	}
	server.router.HandleFunc("POST /tasks", server.handleSubmit)
	server.router.HandleFunc("GET /tasks/{id}", server.handleGetTask)
	server.router.HandleFunc("GET /tasks/{id}/results", server.handleGetResults)
	server.router.HandleFunc("DELETE /tasks/{id}", server.handleCancel)
	server.router.HandleFunc("GET /origins", server.handleOrigins)
	server.router.HandleFunc("GET /products/latest", server.handleLatestProduct)
	server.router.HandleFunc("GET /health", server.handleHealth)
	server.router.Handle("GET /metrics", promhttp.Handler())
	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}
