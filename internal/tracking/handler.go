package tracking

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mailtrack/internal/metrics"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x01, 0x44, 0x00, 0x3b,
}

// PixelGIF returns a copy of the served image.
func PixelGIF() []byte { return append([]byte(nil), pixelGIF...) }

type Handler struct {
	ingest Ingester
	now    func() time.Time
}

func NewHandler(ingest Ingester) *Handler {
	return &Handler{ingest: ingest, now: func() time.Time { return time.Now().UTC() }}
}

// Mount registers the pixel route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/p/{trackingID}.gif", h.HandlePixel)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}

// HandlePixel always serves the image. The fetch is handed to the ingester
// and processed after the response is written; no outcome is observable by
// the caller.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	defer h.servePixel(w)
	defer func() {
		if rec := recover(); rec != nil {
			metrics.Fetch(metrics.FetchError)
		}
	}()

	id := chi.URLParam(r, "trackingID")
	if id == "" || len(id) > 64 {
		metrics.Fetch(metrics.FetchUnknown)
		return
	}
	h.ingest.Ingest(TrackingEvent{
		EventType:  EventOpen,
		TrackingID: id,
		IPAddress:  ClientIP(r),
		UserAgent:  r.UserAgent(),
		Referer:    r.Referer(),
		Timestamp:  h.now(),
	})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// ClientIP prefers X-Real-IP, then the first X-Forwarded-For hop, then the
// connection's remote address without its port. Header values that are not
// IP addresses are skipped; if no source parses the result is empty.
func ClientIP(r *http.Request) string {
	if ip, ok := normalizeIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := normalizeIP(first); ok {
			return ip
		}
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip, _ := normalizeIP(host)
	return ip
}

func normalizeIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.WithZone("").String(), true
}
