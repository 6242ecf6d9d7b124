// Package adminapi implements the fleet's read-only operational surface:
// /healthz, /stats, /cache/status, and a prometheus /metrics endpoint.
// Built the same way the teacher's api.NewRouter wires its own gin.Engine
// — gin.Recovery/gin.Logger globally, a plain route group, no auth since
// this surface is localhost-only by convention.
package adminapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/adscraper/internal/cachestore"
	"github.com/use-agent/adscraper/internal/worker"
)

// healthResponse is GET /healthz's body.
type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// statsResponse is GET /stats's body (worker shared counters).
type statsResponse struct {
	Processed int64 `json:"processed"`
	Success   int64 `json:"success"`
	Failed    int64 `json:"failed"`
	Retry     int64 `json:"retry"`
	BadAd     int64 `json:"bad_ad"`
	BytesIn   int64 `json:"bytes_in"`
	BytesOut  int64 `json:"bytes_out"`
}

// cacheStatusEntry is one row of GET /cache/status's body.
type cacheStatusEntry struct {
	Filename   string `json:"filename"`
	SizeBytes  int64  `json:"size_bytes"`
	AgeSeconds int64  `json:"age_seconds"`
	Version    string `json:"version"`
}

// NewRouter builds the admin gin.Engine. fleet and cache may be read
// concurrently from any worker goroutine; both expose their own
// synchronization so no additional locking is needed here.
func NewRouter(fleet *worker.Fleet, cache *cachestore.Store, startTime time.Time) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
		})
	})

	r.GET("/stats", func(c *gin.Context) {
		snap := fleet.Counters()
		c.JSON(http.StatusOK, statsResponse{
			Processed: snap.Processed,
			Success:   snap.Success,
			Failed:    snap.Failed,
			Retry:     snap.Retry,
			BadAd:     snap.BadAd,
			BytesIn:   snap.BytesIn,
			BytesOut:  snap.BytesOut,
		})
	})

	r.GET("/cache/status", func(c *gin.Context) {
		entries := cache.Status()
		out := make([]cacheStatusEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, cacheStatusEntry{
				Filename:   e.Filename,
				SizeBytes:  e.Size,
				AgeSeconds: int64(e.Age.Seconds()),
				Version:    e.Version,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
