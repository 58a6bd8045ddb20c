// Package status serves a read-only view of the driver session over HTTP.
package status

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/ridesync/core/journal"
	"github.com/kilianp07/ridesync/core/lifecycle"
	"github.com/kilianp07/ridesync/core/model"
)

// Session is the part of the driver session the API reads.
type Session interface {
	Online() bool
	ConnectionState() model.ConnectionState
	State() lifecycle.State
	Requests() []model.RideRequestSnapshot
	Position() model.DriverPosition
	ActiveRide() (model.ActiveRide, bool)
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	Online     bool                  `json:"online"`
	Connection model.ConnectionState `json:"connection"`
	Lifecycle  lifecycle.View        `json:"lifecycle"`
	Requests   int                   `json:"requests"`
	Position   *model.DriverPosition `json:"position,omitempty"`
	ActiveRide *model.ActiveRide     `json:"active_ride,omitempty"`
}

// NewRouter registers the status routes. The journal route is only added
// when store is non-nil and requires "Bearer <token>" when token is set.
func NewRouter(sess Session, store journal.Store, token string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshot(sess))
	})
	r.GET("/requests", func(c *gin.Context) {
		reqs := sess.Requests()
		if reqs == nil {
			reqs = []model.RideRequestSnapshot{}
		}
		c.JSON(http.StatusOK, reqs)
	})
	r.GET("/lifecycle", func(c *gin.Context) {
		c.JSON(http.StatusOK, lifecycle.ViewOf(sess.State()))
	})
	if store != nil {
		r.GET("/journal", bearer(token), journalHandler(store))
	}
	return r
}

func snapshot(sess Session) Snapshot {
	out := Snapshot{
		Online:     sess.Online(),
		Connection: sess.ConnectionState(),
		Lifecycle:  lifecycle.ViewOf(sess.State()),
		Requests:   len(sess.Requests()),
	}
	if p := sess.Position(); !p.IsZero() {
		out.Position = &p
	}
	if r, ok := sess.ActiveRide(); ok {
		out.ActiveRide = &r
	}
	return out
}

func bearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token != "" && c.GetHeader("Authorization") != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// journalHandler answers GET /journal?start=&end=&event=&dropped=.
// Times are RFC 3339; unparsable values are ignored.
func journalHandler(store journal.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q journal.Query
		if s := c.Query("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := c.Query("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		q.Event = c.Query("event")
		q.Dropped, _ = strconv.ParseBool(c.Query("dropped"))

		records, err := store.Query(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = []journal.Record{}
		}
		c.JSON(http.StatusOK, records)
	}
}
