package viz

import (
	"bytes"
	"net/http"

	"github.com/banshee-data/worldmodel/internal/httputil"
)

// HandleChart serves the markers as an echarts HTML page.
func (d *Drawings) HandleChart(w http.ResponseWriter, r *http.Request) {
	markers, updated := d.Markers()
	var buf bytes.Buffer
	if err := RenderHTML(&buf, markers, updated); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandlePlot serves the markers as a PNG. The optional size query parameter
// sets the image edge in inches (default 8, at most 30).
func (d *Drawings) HandlePlot(w http.ResponseWriter, r *http.Request) {
	size, err := httputil.QueryFloat(r, "size", 8)
	if err != nil || size <= 0 || size > 30 {
		httputil.BadRequest(w, "invalid size")
		return
	}
	markers, updated := d.Markers()
	var buf bytes.Buffer
	if err := RenderPNG(&buf, markers, updated, size); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// HandleMarkers serves the markers as JSON.
func (d *Drawings) HandleMarkers(w http.ResponseWriter, r *http.Request) {
	markers, updated := d.Markers()
	httputil.WriteJSONOK(w, map[string]any{
		"updated": updated,
		"markers": markers,
	})
}
