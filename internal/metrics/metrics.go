package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    importItems = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "docvault",
            Name:      "import_items_total",
            Help:      "Import batch items by kind (pdf, image, other) and result",
        },
        []string{"kind", "result"},
    )

    documentsCreated = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "docvault",
            Name:      "documents_created_total",
            Help:      "Catalog records created by source (import, images, merge)",
        },
        []string{"source"},
    )

    documentsDeleted = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "docvault",
            Name:      "documents_deleted_total",
            Help:      "Catalog records deleted",
        },
    )

    operationLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "docvault",
            Name:      "operation_duration_seconds",
            Help:      "Duration of orchestrated operations by name",
            Buckets:   prometheus.DefBuckets,
        },
        []string{"operation"},
    )

    thumbnailFailures = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "docvault",
            Name:      "thumbnail_failures_total",
            Help:      "Thumbnail generation failures (record still created)",
        },
    )

    pageDeletes = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "docvault",
            Name:      "page_deletes_total",
            Help:      "Page delete rewrites by result",
        },
        []string{"result"},
    )
)

// Init registers collectors.
func Init() {
    prometheus.MustRegister(importItems, documentsCreated, documentsDeleted, operationLatency, thumbnailFailures, pageDeletes)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncImportItem(kind, result string) { importItems.WithLabelValues(kind, result).Inc() }

func IncDocumentCreated(source string) { documentsCreated.WithLabelValues(source).Inc() }

func IncDocumentDeleted() { documentsDeleted.Inc() }

func ObserveOperation(operation string, dur time.Duration) {
    operationLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func IncThumbnailFailure() { thumbnailFailures.Inc() }

func IncPageDelete(result string) { pageDeletes.WithLabelValues(result).Inc() }
