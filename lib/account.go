package lib

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/glasswall-sec/slidegate/internal"
	"github.com/glasswall-sec/slidegate/lib/user"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 6

// userPayload is the account shape handed to clients. It never carries
// the password hash.
type userPayload struct {
	ID        string       `json:"id"`
	FullName  string       `json:"fullName"`
	Email     string       `json:"email"`
	CreatedAt time.Time    `json:"createdAt"`
	LastLogin *time.Time   `json:"lastLogin,omitempty"`
	Profile   user.Profile `json:"profile"`
}

func sanitizeUser(u *user.User) userPayload {
	return userPayload{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		Profile:   u.Profile,
	}
}

type signupRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Signup(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lg = lg.With("email", user.MaskEmail(req.Email))

	if strings.TrimSpace(req.FullName) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		lg.Info("signup rejected, missing fields")
		signupsProcessed.WithLabelValues("missing_fields").Inc()
		s.respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if !emailPattern.MatchString(strings.TrimSpace(req.Email)) {
		lg.Info("signup rejected, malformed email")
		signupsProcessed.WithLabelValues("bad_email").Inc()
		s.respondError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	if len(req.Password) < minPasswordLength {
		lg.Info("signup rejected, password too short")
		signupsProcessed.WithLabelValues("short_password").Inc()
		s.respondError(w, http.StatusBadRequest, "Password is too short")
		return
	}

	u, err := s.users.Add(req.FullName, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			lg.Info("signup rejected, email in use")
			signupsProcessed.WithLabelValues("email_taken").Inc()
			s.respondError(w, http.StatusConflict, "Email already registered")
			return
		}

		lg.Error("can't create account", "err", err)
		signupsProcessed.WithLabelValues("error").Inc()
		s.respondError(w, http.StatusInternalServerError, "Could not save account")
		return
	}

	token, err := s.auth.LoginToken(u)
	if err != nil {
		lg.Error("can't mint login token", "err", err)
		signupsProcessed.WithLabelValues("error").Inc()
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	lg.Info("signup ok", "userId", u.ID)
	signupsProcessed.WithLabelValues("ok").Inc()

	s.respondJSON(w, http.StatusCreated, struct {
		Message string      `json:"message"`
		Token   string      `json:"token"`
		User    userPayload `json:"user"`
	}{
		Message: "Account created",
		Token:   token,
		User:    sanitizeUser(u),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// CaptchaToken is the proof handed out by /api/captcha/verify. No
	// proof, no credential check.
	CaptchaToken string `json:"captchaToken"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lg = lg.With("email", user.MaskEmail(req.Email))

	captchaSession, err := s.auth.VerifyCaptchaProof(req.CaptchaToken)
	if err != nil {
		lg.Info("login rejected, no valid captcha proof", "err", err)
		loginsProcessed.WithLabelValues("no_captcha").Inc()
		s.respondError(w, http.StatusForbidden, "Captcha verification required")
		return
	}
	lg = lg.With("captchaSession", captchaSession)

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		lg.Info("login rejected, missing credentials")
		loginsProcessed.WithLabelValues("missing_fields").Inc()
		s.respondError(w, http.StatusBadRequest, "Missing email or password")
		return
	}

	u, err := s.users.FindByEmail(req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			lg.Info("login rejected, unknown account")
			loginsProcessed.WithLabelValues("unknown_user").Inc()
			s.respondError(w, http.StatusNotFound, "Account does not exist")
			return
		}

		lg.Error("can't look up account", "err", err)
		loginsProcessed.WithLabelValues("error").Inc()
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	if !u.CheckPassword(req.Password) {
		lg.Info("login rejected, wrong password", "userId", u.ID)
		loginsProcessed.WithLabelValues("bad_password").Inc()
		s.respondError(w, http.StatusUnauthorized, "Incorrect password")
		return
	}

	u, err = s.users.Touch(u.ID)
	if err != nil {
		lg.Error("can't record login time", "err", err)
		loginsProcessed.WithLabelValues("error").Inc()
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	token, err := s.auth.LoginToken(u)
	if err != nil {
		lg.Error("can't mint login token", "err", err)
		loginsProcessed.WithLabelValues("error").Inc()
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	lg.Info("login ok", "userId", u.ID)
	loginsProcessed.WithLabelValues("ok").Inc()

	s.respondJSON(w, http.StatusOK, struct {
		Message string      `json:"message"`
		Token   string      `json:"token"`
		User    userPayload `json:"user"`
	}{
		Message: "Logged in",
		Token:   token,
		User:    sanitizeUser(u),
	})
}

func (s *Server) Profile(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	token := bearerToken(r)
	if token == "" {
		s.respondError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	id, err := s.auth.VerifyLogin(token)
	if err != nil {
		lg.Debug("profile rejected", "err", err)
		s.respondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	u, err := s.users.FindByEmail(id.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			lg.Info("profile for deleted account", "userId", id.UserID)
			s.respondError(w, http.StatusNotFound, "Account does not exist")
			return
		}

		lg.Error("can't look up account", "err", err)
		s.respondError(w, http.StatusInternalServerError, "Server error")
		return
	}

	s.respondJSON(w, http.StatusOK, struct {
		User userPayload `json:"user"`
	}{User: sanitizeUser(u)})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	// tokens are stateless so logout is bookkeeping only
	if token := bearerToken(r); token != "" {
		if id, err := s.auth.VerifyLogin(token); err == nil {
			lg.Info("logout", "userId", id.UserID, "email", user.MaskEmail(id.Email))
		} else {
			lg.Debug("logout with invalid token", "err", err)
		}
	}

	s.respondJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{Message: "Logged out"})
}
