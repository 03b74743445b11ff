// Package stream holds the active outbound media source and swaps it across
// peer sessions.
package stream

import (
	"github.com/pion/logging"

	"vico_home/actorcast/internal/domain"
	"vico_home/actorcast/internal/peer"
)

// SwapResult reports what SetSource did to each live session.
type SwapResult struct {
	// Swapped lists sessions whose tracks were replaced in place.
	Swapped []string
	// Renegotiate lists sessions that gained a new track kind and need a
	// fresh offer before the remote sees it.
	Renegotiate []string
	// Failed maps sessions whose swap errored to the error.
	Failed map[string]error
	// Empty is set when the new source has no tracks. No session was touched.
	Empty bool
}

// Controller owns the active source. Like peer.Session it is driven from a
// single goroutine.
type Controller struct {
	source domain.MediaSource
	log    logging.LeveledLogger
}

// NewController creates a controller starting on src, which may be nil.
func NewController(src domain.MediaSource, lf logging.LoggerFactory) *Controller {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	c := &Controller{log: lf.NewLogger("stream")}
	if !Empty(src) {
		c.source = src
	}
	return c
}

// Source returns the active source, or nil.
func (c *Controller) Source() domain.MediaSource { return c.source }

// Active reports whether there is something to send.
func (c *Controller) Active() bool { return c.source != nil }

// Attach adds the active source's tracks to a new session.
func (c *Controller) Attach(s *peer.Session) error {
	return s.AttachSource(c.source)
}

// SetSource makes src the active source and pushes it into every live
// session, replacing tracks in place where a sender of that kind exists.
func (c *Controller) SetSource(src domain.MediaSource, sessions []*peer.Session) SwapResult {
	if Empty(src) {
		if c.source != nil {
			c.log.Infof("source %s removed", c.source.ID())
		}
		c.source = nil
		return SwapResult{Empty: true}
	}

	prev := "none"
	if c.source != nil {
		prev = c.source.ID()
	}
	c.source = src
	c.log.Infof("source %s -> %s", prev, src.ID())

	var res SwapResult
	for _, s := range sessions {
		if !s.Live() {
			continue
		}
		renegotiate, err := s.SwapSource(src)
		if err != nil {
			if res.Failed == nil {
				res.Failed = make(map[string]error)
			}
			res.Failed[s.RemoteID] = err
			c.log.Warnf("swap %s for %s: %v", src.ID(), s.RemoteID, err)
			continue
		}
		if renegotiate {
			res.Renegotiate = append(res.Renegotiate, s.RemoteID)
		} else {
			res.Swapped = append(res.Swapped, s.RemoteID)
		}
	}
	return res
}
