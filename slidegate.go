// Package slidegate holds the constants shared between the slidegate
// server, its client, and its command line tooling.
package slidegate

import "time"

var (
	// Version is the version of slidegate in use. This is set at build
	// time with -ldflags, defaulting to "devel" for from-source builds.
	Version = "devel"
)

const (
	// APIPrefix is the URL prefix all slidegate API routes hang off of.
	APIPrefix = "/api"

	// DefaultCanvasWidth and DefaultCanvasHeight are the pixel dimensions
	// of the captcha canvas the background image is rendered into.
	DefaultCanvasWidth  = 300
	DefaultCanvasHeight = 200

	// DefaultPieceWidth and DefaultPieceHeight are the pixel dimensions
	// of the puzzle piece cutout.
	DefaultPieceWidth  = 60
	DefaultPieceHeight = 60

	// DefaultSessionTTL is how long a challenge session may live before
	// it is reclaimed regardless of use.
	DefaultSessionTTL = 5 * time.Minute

	// DefaultAttemptCap is the number of verification calls permitted
	// against one session before it is force-invalidated.
	DefaultAttemptCap = 5

	// DefaultMinDragDuration and DefaultMaxDragDuration bound how long a
	// drag gesture may take before the server refuses to grade it.
	DefaultMinDragDuration = 500 * time.Millisecond
	DefaultMaxDragDuration = 10 * time.Second

	// DefaultToleranceMin and DefaultToleranceMax bound the accuracy band
	// a drag endpoint must land in. The upper bound deliberately excludes
	// pixel-perfect placements: a script that computes the exact offset is
	// more suspicious than a human who is close enough.
	DefaultToleranceMin = 85.0
	DefaultToleranceMax = 99.5

	// DefaultLoginTokenLifetime is how long a login token stays valid.
	DefaultLoginTokenLifetime = 7 * 24 * time.Hour

	// DefaultCaptchaProofLifetime is how long a solved-captcha proof can
	// be exchanged for a login before it must be re-earned.
	DefaultCaptchaProofLifetime = 2 * time.Minute
)
