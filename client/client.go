// Package client is a headless slidegate client: the drag state
// machine, the local pre-verification it runs before bothering the
// server, and an orchestrator that drives the whole
// fetch/drag/verify/login flow. Pointer events are injected so tests,
// terminals, and SDK embedders can all feed gestures.
package client

import (
	"context"
	"time"
)

// Verdict is the server's answer to a verification attempt.
type Verdict struct {
	Valid        bool    `json:"valid"`
	Accuracy     float64 `json:"accuracy,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	CaptchaToken string  `json:"captchaToken,omitempty"`
}

// Verifier grades a drag endpoint server-side. Implemented by *API and
// by test fakes.
type Verifier interface {
	Verify(ctx context.Context, sessionID string, positionX int, duration time.Duration) (Verdict, error)
}
