// Package lib implements the slidegate HTTP API: slider captcha
// challenge issuance and grading, the image endpoints backing the
// puzzle, and the account endpoints the captcha gates.
package lib

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/glasswall-sec/slidegate"
	"github.com/glasswall-sec/slidegate/internal"
	"github.com/glasswall-sec/slidegate/lib/assets"
	"github.com/glasswall-sec/slidegate/lib/auth"
	"github.com/glasswall-sec/slidegate/lib/captcha"
	"github.com/glasswall-sec/slidegate/lib/user"
)

var (
	signupsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_signups_total",
		Help: "The total number of signup attempts",
	}, []string{"result"})

	loginsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_logins_total",
		Help: "The total number of login attempts",
	}, []string{"result"})

	imagesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_captcha_images_served_total",
		Help: "The total number of captcha image responses",
	}, []string{"role"})
)

type Server struct {
	mux     *http.ServeMux
	captcha *captcha.Service
	users   *user.Store
	auth    *auth.Manager
	opts    Options
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// CaptchaService exposes the underlying challenge engine, mainly so
// callers can read the resolved geometry.
func (s *Server) CaptchaService() *captcha.Service {
	return s.captcha
}

func (s *Server) GenerateCaptcha(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	chall, err := s.captcha.NewChallenge(r.Context())
	if err != nil {
		if errors.Is(err, assets.ErrNoAssets) {
			lg.Error("no captcha assets on disk", "err", err)
			s.respondError(w, http.StatusServiceUnavailable, "captcha temporarily unavailable")
			return
		}

		lg.Error("can't generate captcha", "err", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to generate captcha")
		return
	}

	lg.Debug("captcha generated", "sessionId", chall.SessionID)
	s.respondJSON(w, http.StatusOK, chall)
}

type verifyRequest struct {
	SessionID string `json:"sessionId"`
	PositionX int    `json:"positionX"`
	// DurationMS is the wall-clock length of the drag in milliseconds.
	DurationMS int64 `json:"duration"`
}

type verifyResponse struct {
	captcha.Outcome
	// CaptchaToken is only present on success. It is the proof /api/login
	// demands before it will check credentials.
	CaptchaToken string `json:"captchaToken,omitempty"`
}

func (s *Server) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		// malformed input is graded, not errored, so automation can't
		// distinguish a parse failure from a wrong answer
		lg.Debug("malformed verify body", "err", err)
		s.respondJSON(w, http.StatusOK, verifyResponse{})
		return
	}

	outcome := s.captcha.Verify(r.Context(), req.SessionID, req.PositionX, time.Duration(req.DurationMS)*time.Millisecond)

	resp := verifyResponse{Outcome: outcome}
	if outcome.Valid {
		token, err := s.auth.CaptchaProof(req.SessionID)
		if err != nil {
			lg.Error("can't mint captcha proof", "err", err)
			s.respondError(w, http.StatusInternalServerError, "Verification failed")
			return
		}
		resp.CaptchaToken = token
	}

	lg.Info("captcha verified",
		"sessionId", req.SessionID,
		"valid", outcome.Valid,
		"reason", outcome.Reason,
		"duration", req.DurationMS)

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) CaptchaImage(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	sessionID := r.PathValue("sessionId")
	role := r.PathValue("type")

	data, err := s.captcha.Image(r.Context(), sessionID, role)
	if err != nil {
		// one answer for bad session, bad role, and missing asset so the
		// response does not leak which part was wrong
		lg.Debug("can't serve captcha image", "role", role, "err", err)
		s.respondError(w, http.StatusNotFound, "Image not found")
		return
	}

	imagesServed.WithLabelValues(role).Inc()

	etag := `"` + internal.FastHash(data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=300")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Users     int       `json:"users"`
	Storage   string    `json:"storage"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	n, err := s.users.Count()
	if err != nil {
		internal.GetRequestLogger(r).Error("can't count users", "err", err)
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	s.respondJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Users:     n,
		Storage:   s.opts.StoreBackendName,
		Version:   slidegate.Version,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) DebugUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.All()
	if err != nil {
		internal.GetRequestLogger(r).Error("can't list users", "err", err)
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	safe := make([]userPayload, len(users))
	for i := range users {
		safe[i] = sanitizeUser(&users[i])
	}

	s.respondJSON(w, http.StatusOK, struct {
		Total int           `json:"total"`
		Users []userPayload `json:"users"`
	}{
		Total: len(users),
		Users: safe,
	})
}
