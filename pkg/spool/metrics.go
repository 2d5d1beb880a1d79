package spool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SpoolWrites tracks pages written to the spool.
	SpoolWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vendor_spool_writes_total",
			Help: "Total number of pages written to the page spool",
		},
	)

	// SpoolBytes tracks spooled payload size.
	SpoolBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vendor_spool_bytes_total",
			Help: "Total bytes written to the page spool",
		},
	)

	// SpoolErrors tracks spool operation errors.
	SpoolErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_spool_errors_total",
			Help: "Total number of page spool operation errors",
		},
		[]string{"operation"}, // "put", "pages", "clear"
	)
)
