package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}

// Timer measures a job's run time
type Timer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// NewTimer starts timing a job of the given kind
func NewTimer(metrics *Metrics, kind string) *Timer {
	metrics.RecordJobStarted()
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		kind:    kind,
	}
}

// Stop records the job's final state and duration
func (t *Timer) Stop(state string) {
	t.metrics.RecordJobFinished(t.kind, state, time.Since(t.start), true)
}
