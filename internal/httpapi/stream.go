package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-market-trends/session"
)

// stream opens a session for the requested parameters and pushes every
// snapshot as a server-sent "snapshot" event until the client disconnects.
// The first event carries the session id, which the /sessions routes accept.
func (h *Handler) stream(c *gin.Context) {
	params, err := bindParams(c)
	if err != nil {
		writeError(c, err)
		return
	}

	s := h.manager.NewSession()
	defer s.Close()

	// Holds only the newest snapshot; a slow client skips intermediate ones.
	updates := make(chan session.Snapshot, 1)
	unsubscribe := s.Subscribe(func(snap session.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- snap
	})
	defer unsubscribe()

	ctx := c.Request.Context()
	if err := s.SetParameters(ctx, params); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.logger.Debugw("stream opened", "session", s.ID(), "location", params.LocationName)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debugw("stream closed", "session", s.ID())
			return
		case snap := <-updates:
			c.SSEvent("snapshot", snap)
			c.Writer.Flush()
		case now := <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": now.UTC()})
			c.Writer.Flush()
		}
	}
}
