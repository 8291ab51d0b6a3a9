package views

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"stable-action/models"
	"stable-action/services/transform"
	"stable-action/utils"
)

// NewRouter builds the HTTP control surface. lister and overlay may be nil.
func NewRouter(ctl Controls, lister RecordingLister, overlay *OverlayHub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := &handlers{ctl: ctl, lister: lister}
	r.Get("/status", h.status)
	r.Post("/record/toggle", h.toggleRecording)
	r.Post("/mode/{mode}", h.setMode)
	r.Post("/camera/{variant}", h.switchCamera)
	r.Post("/hint/{hint}", h.setHint)
	r.Get("/recordings", h.recordings)
	r.Get("/preview.jpg", h.preview)
	if overlay != nil {
		r.Get("/overlay", overlay.ServeHTTP)
	}
	return r
}

// requestLogger sends one line per request through the shared logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		utils.L().Debug("http %s %s → %d (%s)", req.Method, req.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

type handlers struct {
	ctl    Controls
	lister RecordingLister
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrConfigurationRejected):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrSessionFinishing), errors.Is(err, models.ErrNotRecording):
		code = http.StatusConflict
	case errors.Is(err, models.ErrDeviceUnavailable), errors.Is(err, models.ErrWriterInit):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *handlers) toggleRecording(w http.ResponseWriter, req *http.Request) {
	if err := h.ctl.ToggleRecording(req.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *handlers) setMode(w http.ResponseWriter, req *http.Request) {
	m, ok := transform.ParseMode(chi.URLParam(req, "mode"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown mode"})
		return
	}
	if err := h.ctl.SetMode(req.Context(), m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *handlers) switchCamera(w http.ResponseWriter, req *http.Request) {
	if err := h.ctl.SwitchCamera(req.Context(), chi.URLParam(req, "variant")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *handlers) setHint(w http.ResponseWriter, req *http.Request) {
	if err := h.ctl.SetStabilizationHint(req.Context(), chi.URLParam(req, "hint")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Status())
}

func (h *handlers) recordings(w http.ResponseWriter, req *http.Request) {
	if h.lister == nil {
		writeJSON(w, http.StatusOK, []models.Recording{})
		return
	}
	limit := 50
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad limit"})
			return
		}
		limit = n
	}
	recs, err := h.lister.List(req.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []models.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// preview serves the newest frame of the active display mode.
func (h *handlers) preview(w http.ResponseWriter, _ *http.Request) {
	st := h.ctl.Status()
	m, _ := transform.ParseMode(st.Mode)
	f, ok := h.ctl.Preview(m)
	if !ok {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}

	img := Caption(f.Image, captionFor(st))
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		utils.L().Warn("preview encode: %v", err)
	}
}

func captionFor(st models.PipelineStatus) string {
	s := st.Mode + " roll " + strconv.FormatFloat(st.Smoothed.Roll*180/math.Pi, 'f', 1, 64)
	if st.Recording {
		s = "REC " + s
	}
	return s
}

// Caption copies src and burns text into its top-left corner. The frame
// itself is never modified.
func Caption(src *image.RGBA, text string) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	face := basicfont.Face7x13
	b := dst.Bounds()
	box := image.Rect(b.Min.X, b.Min.Y, b.Min.X+len(text)*face.Advance+8, b.Min.Y+face.Height+6).Intersect(b)
	draw.Draw(dst, box, image.NewUniform(color.RGBA{0, 0, 0, 160}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{255, 64, 64, 255}),
		Face: face,
		Dot:  fixed.P(b.Min.X+4, b.Min.Y+face.Ascent+3),
	}
	d.DrawString(text)
	return dst
}
