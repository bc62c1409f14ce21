package captcha

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidegate_challenges_issued",
		Help: "The total number of slider challenges issued",
	})

	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_verifications_total",
		Help: "Verification attempts graded, by result",
	}, []string{"result"})

	dragAccuracy = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slidegate_drag_accuracy",
		Help:    "Accuracy of graded drag endpoints (percent of canvas width)",
		Buckets: prometheus.LinearBuckets(0, 5, 21),
	})

	// DragDuration records how long a user took to complete the drag
	// gesture (milliseconds).
	dragDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slidegate_drag_duration_milliseconds",
		Help:    "The time taken for a user to complete the drag gesture (milliseconds)",
		Buckets: prometheus.ExponentialBucketsRange(1, math.Pow(2, 20), 20),
	})

	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidegate_sessions_swept",
		Help: "Challenge sessions reclaimed by the opportunistic expiry sweep",
	})
)
