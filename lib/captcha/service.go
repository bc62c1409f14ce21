// Package captcha is the slider challenge engine: session-scoped puzzle
// generation, position and timing based verification, and the session
// lifecycle around both.
package captcha

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand/v2"
	"time"

	"github.com/glasswall-sec/slidegate"
	"github.com/glasswall-sec/slidegate/lib/assets"
	"github.com/glasswall-sec/slidegate/lib/store"
)

var (
	// ErrInvalidRole is returned by Image for any role other than
	// "background" or "puzzle".
	ErrInvalidRole = errors.New("captcha: invalid image role")
)

// Rand is the source of randomness for asset selection and target
// placement. Tests supply a deterministic one; production uses
// math/rand/v2. Session identifiers never come from here, those are
// always crypto/rand.
type Rand interface {
	IntN(n int) int
}

// Options tune the geometry and lifecycle of issued challenges. The zero
// value means "use the slidegate defaults".
type Options struct {
	CanvasWidth  int
	CanvasHeight int
	PieceWidth   int
	PieceHeight  int

	// HorizontalMargin and VerticalMargin keep the target fully
	// on-canvas and away from the edges.
	HorizontalMargin int
	VerticalMargin   int

	SessionTTL  time.Duration
	AttemptCap  int
	MinDuration time.Duration
	MaxDuration time.Duration

	// ToleranceMin and ToleranceMax bound the accepted accuracy band.
	// The band is half-open: accuracy must satisfy min <= a < max.
	ToleranceMin float64
	ToleranceMax float64

	Rand Rand
}

func (o *Options) withDefaults() {
	if o.CanvasWidth == 0 {
		o.CanvasWidth = slidegate.DefaultCanvasWidth
	}
	if o.CanvasHeight == 0 {
		o.CanvasHeight = slidegate.DefaultCanvasHeight
	}
	if o.PieceWidth == 0 {
		o.PieceWidth = slidegate.DefaultPieceWidth
	}
	if o.PieceHeight == 0 {
		o.PieceHeight = slidegate.DefaultPieceHeight
	}
	if o.HorizontalMargin == 0 {
		o.HorizontalMargin = 40
	}
	if o.VerticalMargin == 0 {
		o.VerticalMargin = 20
	}
	if o.SessionTTL == 0 {
		o.SessionTTL = slidegate.DefaultSessionTTL
	}
	if o.AttemptCap == 0 {
		o.AttemptCap = slidegate.DefaultAttemptCap
	}
	if o.MinDuration == 0 {
		o.MinDuration = slidegate.DefaultMinDragDuration
	}
	if o.MaxDuration == 0 {
		o.MaxDuration = slidegate.DefaultMaxDragDuration
	}
	if o.ToleranceMin == 0 {
		o.ToleranceMin = slidegate.DefaultToleranceMin
	}
	if o.ToleranceMax == 0 {
		o.ToleranceMax = slidegate.DefaultToleranceMax
	}
	if o.Rand == nil {
		o.Rand = mathrand.New(mathrand.NewPCG(mathrand.Uint64(), mathrand.Uint64()))
	}
}

// Challenge is the generation payload handed to the client.
//
// PuzzleX and PuzzleY position the rendered hole, which means the payload
// discloses the target coordinates to anything that can read JSON. This
// matches the documented behavior of the protocol; hardening it means
// baking the hole into the background image server-side.
type Challenge struct {
	SessionID       string `json:"sessionId"`
	BackgroundImage string `json:"backgroundImage"`
	PuzzleImage     string `json:"puzzleImage"`
	CanvasWidth     int    `json:"canvasWidth"`
	CanvasHeight    int    `json:"canvasHeight"`
	PuzzleWidth     int    `json:"puzzleWidth"`
	PuzzleHeight    int    `json:"puzzleHeight"`
	PuzzleX         int    `json:"puzzleX"`
	PuzzleY         int    `json:"puzzleY"`
}

// Service generates and grades slider challenges. It owns no session
// state itself; everything lives in the injected store.
type Service struct {
	store   store.Interface
	catalog *assets.Catalog
	opts    Options
}

func New(st store.Interface, catalog *assets.Catalog, opts Options) *Service {
	opts.withDefaults()

	return &Service{
		store:   st,
		catalog: catalog,
		opts:    opts,
	}
}

// NewChallenge picks a random background/shape pair and a random target
// position, persists the session, and opportunistically sweeps expired
// sessions. It fails only with assets.ErrNoAssets or a store fault.
func (s *Service) NewChallenge(ctx context.Context) (*Challenge, error) {
	backgrounds := s.catalog.Backgrounds()
	shapes := s.catalog.PuzzleShapes()
	if len(backgrounds) == 0 || len(shapes) == 0 {
		return nil, fmt.Errorf("%w: %d backgrounds, %d puzzle shapes", assets.ErrNoAssets, len(backgrounds), len(shapes))
	}

	background := backgrounds[s.opts.Rand.IntN(len(backgrounds))]
	shape := shapes[s.opts.Rand.IntN(len(shapes))]

	targetX := s.opts.HorizontalMargin + s.opts.Rand.IntN(s.opts.CanvasWidth-s.opts.PieceWidth-2*s.opts.HorizontalMargin+1)
	targetY := s.opts.VerticalMargin + s.opts.Rand.IntN(s.opts.CanvasHeight-s.opts.PieceHeight-2*s.opts.VerticalMargin+1)

	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("captcha: can't mint session id: %w", err)
	}

	sess := &store.Session{
		ID:         id,
		Background: background,
		Puzzle:     shape,
		TargetX:    targetX,
		TargetY:    targetY,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Create(ctx, sess, s.opts.SessionTTL); err != nil {
		return nil, fmt.Errorf("captcha: can't store session: %w", err)
	}

	// Low traffic makes a dedicated sweep timer pointless; reclaiming
	// after each creation bounds stale-session growth well enough.
	if removed, err := s.store.Sweep(ctx); err != nil {
		slog.Warn("session sweep failed", "err", err)
	} else if removed > 0 {
		sessionsSwept.Add(float64(removed))
		slog.Debug("swept expired sessions", "removed", removed)
	}

	challengesIssued.Inc()

	return &Challenge{
		SessionID:       id,
		BackgroundImage: fmt.Sprintf("%s/captcha/image/%s/background", slidegate.APIPrefix, id),
		PuzzleImage:     fmt.Sprintf("%s/captcha/image/%s/puzzle", slidegate.APIPrefix, id),
		CanvasWidth:     s.opts.CanvasWidth,
		CanvasHeight:    s.opts.CanvasHeight,
		PuzzleWidth:     s.opts.PieceWidth,
		PuzzleHeight:    s.opts.PieceHeight,
		PuzzleX:         targetX,
		PuzzleY:         targetY,
	}, nil
}

// Verify grades one drag attempt against one session. The checks run in
// a fixed order and short-circuit on the first failure: session lookup,
// attempt cap, duration band, then position tolerance. The session is
// consumed on success and on cap exhaustion; other failures leave it in
// place for a retry. Success is granted only to the call whose delete
// actually removed the session, so two verifications racing on the same
// id can never both be graded valid.
func (s *Service) Verify(ctx context.Context, sessionID string, userX int, duration time.Duration) Outcome {
	fail := func(reason Reason, accuracy float64) Outcome {
		verifications.WithLabelValues(reason.MetricLabel()).Inc()
		return Outcome{Valid: false, Accuracy: accuracy, Reason: reason}
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fail(ReasonSessionExpired, 0)
	}

	attempts, err := s.store.Increment(ctx, sessionID)
	if err != nil {
		// lost a race with the expiry sweep
		return fail(ReasonSessionExpired, 0)
	}

	if attempts > s.opts.AttemptCap {
		if _, err := s.store.Delete(ctx, sessionID); err != nil {
			slog.Error("can't delete exhausted session", "err", err)
		}
		return fail(ReasonTooManyAttempts, 0)
	}

	if duration < s.opts.MinDuration || duration > s.opts.MaxDuration {
		return fail(ReasonInvalidDuration, 0)
	}

	difference := math.Abs(float64(userX - sess.TargetX))
	accuracy := 100 - (difference / float64(s.opts.CanvasWidth) * 100)

	dragAccuracy.Observe(accuracy)
	dragDuration.Observe(float64(duration.Milliseconds()))

	if accuracy >= s.opts.ToleranceMin && accuracy < s.opts.ToleranceMax {
		removed, err := s.store.Delete(ctx, sessionID)
		if err != nil {
			slog.Error("can't consume verified session", "err", err)
			return fail(ReasonSessionExpired, 0)
		}
		if !removed {
			// a concurrent verification consumed the session first
			return fail(ReasonSessionExpired, 0)
		}
		verifications.WithLabelValues("valid").Inc()
		return Outcome{Valid: true, Accuracy: accuracy}
	}

	return fail(ReasonPositionMismatch, accuracy)
}

// Image returns the raw bytes of the asset a session was assigned, by
// role. Session state is never mutated here.
func (s *Service) Image(ctx context.Context, sessionID, role string) ([]byte, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var ref string
	switch role {
	case "background":
		ref = sess.Background
	case "puzzle":
		ref = sess.Puzzle
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	return s.catalog.Read(ref)
}

// Options returns a copy of the resolved option set, mainly so the HTTP
// layer and clients can agree on geometry.
func (s *Service) Options() Options {
	return s.opts
}

func newSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
