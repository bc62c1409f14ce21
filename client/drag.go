package client

import (
	"context"
	"math"
	"time"

	"github.com/glasswall-sec/slidegate/lib/captcha"
)

// State is where a Drag is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateDragging
	StateVerifying
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDragging:
		return "dragging"
	case StateVerifying:
		return "verifying"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Failure says why a drag attempt did not end in StateSuccess. Local
// failures never reach the server.
type Failure string

const (
	FailureNone       Failure = ""
	FailureDuration   Failure = "invalid duration"
	FailureTooPerfect Failure = "too precise"
	FailureNotHuman   Failure = "automation suspected"
	FailurePosition   Failure = "position mismatch"
	FailureRejected   Failure = "rejected by server"
	FailureTransport  Failure = "network error"
)

// Client-side grading bounds. Looser than the server's so that a drag
// which passes locally usually passes remotely too.
const (
	localToleranceMin = 80.0
	localToleranceMax = 99.5
	localMinDuration  = 300 * time.Millisecond
	localMaxDuration  = 12 * time.Second
)

// Result is the outcome of one Release.
type Result struct {
	State   State
	Failure Failure
	// LocalAccuracy is the piece/hole overlap as a percentage of the
	// piece width, graded before any server round trip.
	LocalAccuracy float64
	// Verdict is set only when the server was consulted.
	Verdict *Verdict
	// Err is set when the server could not be reached.
	Err error
}

// Drag tracks one slider gesture against one challenge. Not safe for
// concurrent use; a gesture is inherently sequential.
type Drag struct {
	chall    *captcha.Challenge
	verifier Verifier

	state    State
	pressX   float64
	pressAt  time.Time
	offsetX  float64
	samples  []sample
}

func NewDrag(chall *captcha.Challenge, verifier Verifier) *Drag {
	return &Drag{
		chall:    chall,
		verifier: verifier,
		state:    StateIdle,
	}
}

func (d *Drag) State() State { return d.state }

// OffsetX is the current piece offset, clamped to the track.
func (d *Drag) OffsetX() float64 { return d.offsetX }

// Press starts a gesture. Ignored unless the drag is idle.
func (d *Drag) Press(x float64, t time.Time) {
	if d.state != StateIdle {
		return
	}

	d.state = StateDragging
	d.pressX = x
	d.pressAt = t
	d.offsetX = 0
	d.samples = d.samples[:0]
	d.samples = append(d.samples, sample{X: x, AtMS: 0})
}

// Move records one pointer sample and updates the clamped offset.
// Ignored unless a gesture is in flight.
func (d *Drag) Move(x float64, t time.Time) {
	if d.state != StateDragging {
		return
	}

	maxOffset := float64(d.chall.CanvasWidth - d.chall.PuzzleWidth)
	d.offsetX = math.Max(0, math.Min(maxOffset, x-d.pressX))

	d.samples = append(d.samples, sample{
		X:    x,
		AtMS: t.Sub(d.pressAt).Milliseconds(),
	})
}

// Release ends the gesture, grades it locally, and only consults the
// server when the gesture looks passable. Ignored unless a gesture is
// in flight.
func (d *Drag) Release(ctx context.Context, t time.Time) Result {
	if d.state != StateDragging {
		return Result{State: d.state}
	}

	duration := t.Sub(d.pressAt)
	accuracy := d.overlapAccuracy()

	fail := func(failure Failure) Result {
		d.state = StateError
		return Result{State: StateError, Failure: failure, LocalAccuracy: accuracy}
	}

	if duration < localMinDuration || duration > localMaxDuration {
		return fail(FailureDuration)
	}

	if accuracy >= localToleranceMax {
		return fail(FailureTooPerfect)
	}
	if accuracy < localToleranceMin {
		return fail(FailurePosition)
	}

	if !humanLike(d.samples, duration) {
		return fail(FailureNotHuman)
	}

	d.state = StateVerifying

	positionX := int(math.Round(d.offsetX))
	verdict, err := d.verifier.Verify(ctx, d.chall.SessionID, positionX, duration)
	if err != nil {
		d.state = StateError
		return Result{State: StateError, Failure: FailureTransport, LocalAccuracy: accuracy, Err: err}
	}

	if !verdict.Valid {
		d.state = StateError
		return Result{State: StateError, Failure: FailureRejected, LocalAccuracy: accuracy, Verdict: &verdict}
	}

	d.state = StateSuccess
	return Result{State: StateSuccess, LocalAccuracy: accuracy, Verdict: &verdict}
}

// Reset returns the drag to idle so the same challenge can be retried.
func (d *Drag) Reset() {
	d.state = StateIdle
	d.offsetX = 0
	d.samples = d.samples[:0]
}

// overlapAccuracy grades how much of the piece covers the hole, as a
// percentage of the piece width. Disjoint spans grade as zero.
func (d *Drag) overlapAccuracy() float64 {
	pieceWidth := float64(d.chall.PuzzleWidth)
	pieceLeft := d.offsetX
	pieceRight := pieceLeft + pieceWidth
	holeLeft := float64(d.chall.PuzzleX)
	holeRight := holeLeft + pieceWidth

	if pieceRight < holeLeft || pieceLeft > holeRight {
		return 0
	}

	overlap := math.Min(pieceRight, holeRight) - math.Max(pieceLeft, holeLeft)
	return overlap / pieceWidth * 100
}
