package api

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/argus-news/argus/pkg/events"
)

// streamJob serves a job's event journal as SSE. Reconnecting clients pass
// their last seen seq via the Last-Event-ID header or the lastEventId query
// parameter and receive exactly the tail they missed. The stream ends after
// the terminal event, or with a single overflow event for subscribers that
// fell behind the journal buffer.
func (s *Server) streamJob(c *gin.Context, jobID string, onDetach func()) {
	sub, err := s.bus.Subscribe(jobID, lastEventID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stream for job"})
		return
	}
	// The subscription must be gone before the detach notification runs:
	// cancel-on-detach counts the remaining subscribers.
	defer func() {
		sub.Cancel()
		if onDetach != nil {
			onDetach()
		}
	}()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if err := writeEvent(c, ev); err != nil {
			s.logger.Debug("Stream write failed, dropping subscriber", "job_id", jobID, "error", err)
			return
		}
	}
}

func writeEvent(c *gin.Context, ev events.Event) error {
	msg := sse.Event{
		Id:    strconv.FormatInt(ev.Seq, 10),
		Event: string(ev.Type),
		Data:  ev,
	}
	if err := sse.Encode(c.Writer, msg); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

// lastEventID reads the client's resume position: the standard SSE header
// first, then the query parameter fallback for clients that cannot set
// headers. Zero means a full replay.
func lastEventID(c *gin.Context) int64 {
	raw := c.GetHeader("Last-Event-ID")
	if raw == "" {
		raw = c.Query("lastEventId")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
