package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glasswall-sec/slidegate/lib/captcha"
)

type fakeVerifier struct {
	calls     int
	positionX int
	sessionID string
	verdict   Verdict
	err       error
}

func (f *fakeVerifier) Verify(ctx context.Context, sessionID string, positionX int, duration time.Duration) (Verdict, error) {
	f.calls++
	f.sessionID = sessionID
	f.positionX = positionX
	return f.verdict, f.err
}

func testChallenge() *captcha.Challenge {
	return &captcha.Challenge{
		SessionID:    "test-session",
		CanvasWidth:  300,
		CanvasHeight: 200,
		PuzzleWidth:  60,
		PuzzleHeight: 60,
		PuzzleX:      120,
		PuzzleY:      60,
	}
}

// driveTo replays a plausibly human gesture ending at exactly the given
// offset, taking roughly 1.5 seconds, and returns the release result.
func driveTo(ctx context.Context, d *Drag, offset float64) Result {
	base := time.Now()
	d.Press(10, base)

	// alternating short and long steps so velocity varies like a hand
	steps := 20
	x := 10.0
	for i := 1; i <= steps; i++ {
		frac := offset / float64(steps)
		if i%2 == 0 {
			x += frac * 1.4
		} else {
			x += frac * 0.6
		}
		if i == steps {
			x = 10 + offset
		}
		d.Move(x, base.Add(time.Duration(i)*75*time.Millisecond))
	}

	return d.Release(ctx, base.Add(1500*time.Millisecond))
}

func TestDragStateMachine(t *testing.T) {
	fake := &fakeVerifier{verdict: Verdict{Valid: true, CaptchaToken: "proof"}}
	d := NewDrag(testChallenge(), fake)
	base := time.Now()

	if d.State() != StateIdle {
		t.Fatalf("fresh drag is %v, not idle", d.State())
	}

	// events before a press are ignored
	d.Move(50, base)
	if d.OffsetX() != 0 {
		t.Error("Move before Press moved the piece")
	}
	if res := d.Release(context.Background(), base); res.State != StateIdle {
		t.Errorf("Release before Press produced %v", res.State)
	}

	d.Press(10, base)
	if d.State() != StateDragging {
		t.Fatalf("after Press: %v", d.State())
	}

	// a second press mid-gesture is ignored
	d.Press(500, base)
	if d.OffsetX() != 0 {
		t.Error("second Press reset the gesture origin")
	}
}

func TestDragClampsOffset(t *testing.T) {
	d := NewDrag(testChallenge(), &fakeVerifier{})
	base := time.Now()

	d.Press(10, base)
	d.Move(5000, base.Add(50*time.Millisecond))
	if d.OffsetX() != 240 {
		t.Errorf("offset %v escaped the track, wanted 240", d.OffsetX())
	}

	d.Move(-5000, base.Add(100*time.Millisecond))
	if d.OffsetX() != 0 {
		t.Errorf("offset %v went negative", d.OffsetX())
	}
}

func TestDragLocalRejections(t *testing.T) {
	t.Run("too fast", func(t *testing.T) {
		fake := &fakeVerifier{}
		d := NewDrag(testChallenge(), fake)
		base := time.Now()

		d.Press(10, base)
		d.Move(70, base.Add(20*time.Millisecond))
		d.Move(130, base.Add(40*time.Millisecond))
		res := d.Release(context.Background(), base.Add(60*time.Millisecond))

		if res.State != StateError || res.Failure != FailureDuration {
			t.Errorf("wanted a duration failure but got %+v", res)
		}
		if fake.calls != 0 {
			t.Error("local rejection still called the server")
		}
	})

	t.Run("pixel perfect", func(t *testing.T) {
		fake := &fakeVerifier{}
		d := NewDrag(testChallenge(), fake)

		res := driveTo(context.Background(), d, 120)
		if res.State != StateError || res.Failure != FailureTooPerfect {
			t.Errorf("wanted a too-perfect failure but got %+v", res)
		}
		if res.LocalAccuracy != 100 {
			t.Errorf("overlap accuracy %v, wanted 100", res.LocalAccuracy)
		}
		if fake.calls != 0 {
			t.Error("local rejection still called the server")
		}
	})

	t.Run("way off", func(t *testing.T) {
		fake := &fakeVerifier{}
		d := NewDrag(testChallenge(), fake)

		res := driveTo(context.Background(), d, 20)
		if res.State != StateError || res.Failure != FailurePosition {
			t.Errorf("wanted a position failure but got %+v", res)
		}
		if res.LocalAccuracy != 0 {
			t.Errorf("disjoint spans graded %v, wanted 0", res.LocalAccuracy)
		}
		if fake.calls != 0 {
			t.Error("local rejection still called the server")
		}
	})

	t.Run("robotic motion", func(t *testing.T) {
		fake := &fakeVerifier{}
		d := NewDrag(testChallenge(), fake)
		base := time.Now()

		// constant velocity straight to the target
		d.Press(10, base)
		for i := 1; i <= 23; i++ {
			d.Move(10+float64(i)*5, base.Add(time.Duration(i)*50*time.Millisecond))
		}
		res := d.Release(context.Background(), base.Add(1200*time.Millisecond))

		if res.State != StateError || res.Failure != FailureNotHuman {
			t.Errorf("wanted a not-human failure but got %+v", res)
		}
		if fake.calls != 0 {
			t.Error("local rejection still called the server")
		}
	})
}

func TestDragSuccess(t *testing.T) {
	fake := &fakeVerifier{verdict: Verdict{Valid: true, Accuracy: 98.3, CaptchaToken: "proof"}}
	d := NewDrag(testChallenge(), fake)

	res := driveTo(context.Background(), d, 115)

	if res.State != StateSuccess {
		t.Fatalf("wanted success but got %+v", res)
	}
	if res.Verdict == nil || res.Verdict.CaptchaToken != "proof" {
		t.Errorf("verdict not carried through: %+v", res.Verdict)
	}
	if fake.calls != 1 {
		t.Errorf("server called %d times", fake.calls)
	}
	if fake.sessionID != "test-session" || fake.positionX != 115 {
		t.Errorf("server saw session=%q positionX=%d", fake.sessionID, fake.positionX)
	}
	if d.State() != StateSuccess {
		t.Errorf("drag left in %v", d.State())
	}
}

func TestDragServerRejection(t *testing.T) {
	fake := &fakeVerifier{verdict: Verdict{Valid: false, Reason: "Position mismatch"}}
	d := NewDrag(testChallenge(), fake)

	res := driveTo(context.Background(), d, 115)
	if res.State != StateError || res.Failure != FailureRejected {
		t.Fatalf("wanted a server rejection but got %+v", res)
	}
	if res.Verdict == nil || res.Verdict.Reason != "Position mismatch" {
		t.Errorf("verdict not carried through: %+v", res.Verdict)
	}

	// Reset makes the drag reusable
	d.Reset()
	if d.State() != StateIdle || d.OffsetX() != 0 {
		t.Errorf("Reset left state=%v offset=%v", d.State(), d.OffsetX())
	}

	fake.verdict = Verdict{Valid: true, CaptchaToken: "proof"}
	if res := driveTo(context.Background(), d, 115); res.State != StateSuccess {
		t.Errorf("retry after Reset failed: %+v", res)
	}
}

func TestDragTransportError(t *testing.T) {
	fake := &fakeVerifier{err: errors.New("connection refused")}
	d := NewDrag(testChallenge(), fake)

	res := driveTo(context.Background(), d, 115)
	if res.State != StateError || res.Failure != FailureTransport {
		t.Fatalf("wanted a transport failure but got %+v", res)
	}
	if res.Err == nil {
		t.Error("transport failure lost its error")
	}
}
