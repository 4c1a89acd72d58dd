package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_fetch_requests_total",
			Help: "Page fetches by outcome",
		},
		[]string{"outcome"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Time spent on a single page fetch",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProductsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_products_accepted_total",
			Help: "Products accepted after relevance scoring",
		},
		[]string{"origin"},
	)

	OriginFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_origin_failures_total",
			Help: "Failures reported against an origin",
		},
		[]string{"origin"},
	)

	OriginsBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_origins_blocked",
			Help: "Origins currently in cooldown",
		},
	)

	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_tasks_finished_total",
			Help: "Crawl tasks by terminal status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(FetchRequests)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(ProductsAccepted)
	prometheus.MustRegister(OriginFailures)
	prometheus.MustRegister(OriginsBlocked)
	prometheus.MustRegister(TasksFinished)
}
