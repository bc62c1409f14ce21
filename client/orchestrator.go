package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glasswall-sec/slidegate/lib/captcha"
)

// ErrGiveUp means the orchestrator exhausted its challenge budget
// without a successful solve.
var ErrGiveUp = errors.New("client: could not solve captcha")

// Gesturer produces one drag attempt on d for the given challenge,
// ending with Release, and returns its result. Implementations feed
// whatever pointer trace they like: recorded human gestures, synthetic
// test traces, or terminal input.
type Gesturer interface {
	Gesture(ctx context.Context, d *Drag, chall *captcha.Challenge) Result
}

// GesturerFunc adapts a function to the Gesturer interface.
type GesturerFunc func(ctx context.Context, d *Drag, chall *captcha.Challenge) Result

func (f GesturerFunc) Gesture(ctx context.Context, d *Drag, chall *captcha.Challenge) Result {
	return f(ctx, d, chall)
}

// Orchestrator runs the full solve flow: fetch a challenge, download
// its images, drive drag attempts, and reload with a fresh challenge
// when attempts run out or anything on the way breaks. Every failure
// path ends in a reload rather than a dead end, up to MaxChallenges.
type Orchestrator struct {
	API      *API
	Gesturer Gesturer

	// AttemptsPerChallenge is how many drags to try against one
	// challenge before reloading. The default of 2 stays under the
	// server's attempt cap with room for grading differences.
	AttemptsPerChallenge int

	// MaxChallenges bounds the reload loop.
	MaxChallenges int
}

func (o *Orchestrator) attemptsPerChallenge() int {
	if o.AttemptsPerChallenge <= 0 {
		return 2
	}
	return o.AttemptsPerChallenge
}

func (o *Orchestrator) maxChallenges() int {
	if o.MaxChallenges <= 0 {
		return 3
	}
	return o.MaxChallenges
}

// Solve runs the flow until a solve succeeds and returns the
// solved-captcha proof token.
func (o *Orchestrator) Solve(ctx context.Context) (string, error) {
	for range o.maxChallenges() {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		chall, err := o.API.Generate(ctx)
		if err != nil {
			slog.Debug("challenge fetch failed, reloading", "err", err)
			continue
		}

		// both images must render before a drag makes sense
		if _, err := o.API.Image(ctx, chall.BackgroundImage); err != nil {
			slog.Debug("background fetch failed, reloading", "err", err)
			continue
		}
		if _, err := o.API.Image(ctx, chall.PuzzleImage); err != nil {
			slog.Debug("puzzle fetch failed, reloading", "err", err)
			continue
		}

		drag := NewDrag(chall, o.API)
		for range o.attemptsPerChallenge() {
			if err := ctx.Err(); err != nil {
				return "", err
			}

			res := o.Gesturer.Gesture(ctx, drag, chall)
			if res.State == StateSuccess && res.Verdict != nil {
				return res.Verdict.CaptchaToken, nil
			}

			slog.Debug("drag attempt failed", "failure", res.Failure)

			// a consumed or expired session can't be retried in place
			if res.Verdict != nil && res.Verdict.Reason == string(captcha.ReasonSessionExpired) {
				break
			}

			drag.Reset()
		}
	}

	return "", ErrGiveUp
}

// Login solves a captcha and then exchanges the proof plus credentials
// for a login token.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	proof, err := o.Solve(ctx)
	if err != nil {
		return nil, err
	}

	return o.API.Login(ctx, email, password, proof)
}
