package server

import "github.com/prometheus/client_golang/prometheus"

var (
	chatTurnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_chat_turns_total",
		Help: "Chat turns handled, by outcome.",
	}, []string{"status"})
	chatTurnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_chat_turn_duration_seconds",
		Help:    "Wall time spent answering one chat turn.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	filesUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docchat_files_uploaded_total",
		Help: "Documents uploaded through the admin surface.",
	})
	filesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docchat_files_deleted_total",
		Help: "Documents deleted through the admin surface.",
	})
)

func init() {
	prometheus.MustRegister(chatTurnsTotal, chatTurnDuration, filesUploadedTotal, filesDeletedTotal)
}
