// Package auth mints and checks the two kinds of tokens slidegate
// hands out: long-lived login tokens and short-lived solved-captcha
// proofs. Both are JWTs signed with ed25519 by default, or HMAC-SHA512
// when deployments need to share a secret across instances.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/glasswall-sec/slidegate"
	"github.com/glasswall-sec/slidegate/lib/user"
)

// Token use claims. A captcha proof must never pass as a login token.
const (
	useLogin   = "login"
	useCaptcha = "captcha"
)

// ErrInvalidToken is returned for any token that fails signature,
// expiry, or use checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Options configure a Manager. Leave both key fields empty to have New
// generate an ephemeral ed25519 keypair, which invalidates all
// outstanding tokens on restart.
type Options struct {
	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	LoginLifetime   time.Duration
	CaptchaLifetime time.Duration
}

// Identity is what a verified login token says about its bearer.
type Identity struct {
	UserID string
	Email  string
}

// Manager signs and verifies tokens. Safe for concurrent use.
type Manager struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	hs512Secret []byte

	loginLifetime   time.Duration
	captchaLifetime time.Duration
}

func New(opts Options) (*Manager, error) {
	if opts.LoginLifetime == 0 {
		opts.LoginLifetime = slidegate.DefaultLoginTokenLifetime
	}
	if opts.CaptchaLifetime == 0 {
		opts.CaptchaLifetime = slidegate.DefaultCaptchaProofLifetime
	}

	m := &Manager{
		hs512Secret:     opts.HS512Secret,
		loginLifetime:   opts.LoginLifetime,
		captchaLifetime: opts.CaptchaLifetime,
	}

	switch {
	case len(opts.HS512Secret) != 0:
		// symmetric mode, no keypair needed
	case opts.ED25519PrivateKey != nil:
		m.priv = opts.ED25519PrivateKey
		m.pub = opts.ED25519PrivateKey.Public().(ed25519.PublicKey)
	default:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: can't generate ed25519 key: %w", err)
		}
		m.priv = priv
		m.pub = pub
	}

	return m, nil
}

func (m *Manager) sign(claims jwt.MapClaims, lifetime time.Duration) (string, error) {
	claims["iat"] = time.Now().Unix()
	claims["nbf"] = time.Now().Add(-1 * time.Minute).Unix()
	claims["exp"] = time.Now().Add(lifetime).Unix()
	claims["jti"] = uuid.NewString()

	if len(m.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.priv)
	} else {
		return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(m.hs512Secret)
	}
}

func (m *Manager) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if len(m.hs512Secret) == 0 {
			return m.pub, nil
		}
		return m.hs512Secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithStrictDecoding())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrInvalidToken, token.Claims)
	}

	return claims, nil
}

// LoginToken mints a token that identifies u for a week of requests.
func (m *Manager) LoginToken(u *user.User) (string, error) {
	return m.sign(jwt.MapClaims{
		"use":   useLogin,
		"sub":   u.ID,
		"email": u.Email,
	}, m.loginLifetime)
}

// CaptchaProof mints the short-lived token /api/captcha/verify hands
// out on success, bound to the session that was solved. Holding one is
// the precondition for logging in.
func (m *Manager) CaptchaProof(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: proof needs a session id", ErrInvalidToken)
	}

	return m.sign(jwt.MapClaims{
		"use": useCaptcha,
		"sub": sessionID,
	}, m.captchaLifetime)
}

// VerifyLogin checks a login token and returns the identity it carries.
func (m *Manager) VerifyLogin(tokenString string) (Identity, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return Identity{}, err
	}

	if use, _ := claims["use"].(string); use != useLogin {
		return Identity{}, fmt.Errorf("%w: not a login token", ErrInvalidToken)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	email, _ := claims["email"].(string)

	return Identity{UserID: sub, Email: email}, nil
}

// VerifyCaptchaProof checks a solved-captcha proof and returns the
// session id it was minted for.
func (m *Manager) VerifyCaptchaProof(tokenString string) (string, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return "", err
	}

	if use, _ := claims["use"].(string); use != useCaptcha {
		return "", fmt.Errorf("%w: not a captcha proof", ErrInvalidToken)
	}

	sessionID, ok := claims["sub"].(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("%w: proof is not bound to a session", ErrInvalidToken)
	}

	return sessionID, nil
}
