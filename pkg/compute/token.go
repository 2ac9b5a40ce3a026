package compute

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fxnlabs/clsafe/internal/driver"
	"github.com/fxnlabs/clsafe/internal/futex"
	"github.com/fxnlabs/clsafe/internal/metrics"
)

// State is the execution state of launched work.
type State int

const (
	Queued State = iota
	Submitted
	Running
	Complete
)

var stateNames = [...]string{"queued", "submitted", "running", "complete"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Signal word values. A completed word holds the terminal status, which is zero or
// negative.
const (
	WordUnsignaled int32 = 1
	WordClaimed    int32 = 2
)

// Wait mode labels.
const (
	modeBlocking = "blocking"
	modeCallback = "callback"
	modeFutex    = "futex"
)

// Token tracks one launch. Completion may be observed by blocking in Wait, by one or
// more OnComplete callbacks, through the futex signal word, or through the notification
// descriptor returned by FD. All of them may be used on the same Token concurrently.
type Token struct {
	id    uuid.UUID
	drv   Driver
	event driver.Event
	start time.Time
	log   *zap.Logger

	word   atomic.Int32
	closed atomic.Bool

	fdMu     sync.Mutex
	notifier *notifier
}

func newToken(d *Device, ev driver.Event, start time.Time) *Token {
	t := &Token{id: uuid.New(), drv: d.ctx.drv, event: ev, start: start}
	t.log = d.log.With(zap.Stringer("token", t.id))
	t.word.Store(WordUnsignaled)
	return t
}

// ID identifies the token in logs.
func (t *Token) ID() uuid.UUID { return t.id }

func (t *Token) observe(mode string) {
	metrics.TokenWaitSeconds.WithLabelValues(mode).Observe(time.Since(t.start).Seconds())
}

// State reports the current execution state without blocking. Work that finished with
// an error reports Complete together with a *JobError.
func (t *Token) State() (State, error) {
	if t.closed.Load() {
		return Queued, ErrClosed
	}
	code, st := t.drv.EventStatus(t.event)
	switch {
	case st == driver.StatusSuccess:
	case isResourceStatus(st):
		return Queued, ErrNoMem
	default:
		unexpected("clGetEventInfo", st)
	}
	switch {
	case code < 0:
		return Complete, &JobError{Code: code}
	case code == driver.ExecComplete:
		return Complete, nil
	case code == driver.ExecRunning:
		return Running, nil
	case code == driver.ExecSubmitted:
		return Submitted, nil
	case code == driver.ExecQueued:
		return Queued, nil
	}
	panic(fmt.Sprintf("compute: clGetEventInfo: unexpected execution status %d", code))
}

// Wait blocks until the work completes. It returns a *JobError when the work itself
// failed.
func (t *Token) Wait() error {
	if t.closed.Load() {
		return ErrClosed
	}
	st := t.drv.WaitForEvents([]driver.Event{t.event})
	switch {
	case st == driver.StatusSuccess:
		t.observe(modeBlocking)
		return nil
	case isResourceStatus(st):
		return ErrNoMem
	case st == driver.StatusExecStatusErrorForEvents:
		t.observe(modeBlocking)
		code, est := t.drv.EventStatus(t.event)
		if est != driver.StatusSuccess || code >= 0 {
			return ErrJobFinishedWithError
		}
		return &JobError{Code: code}
	}
	unexpected("clWaitForEvents", st)
	return nil
}

// OnComplete registers fn to be called once with the terminal status when the work
// completes. fn runs on a driver goroutine and must not block.
func (t *Token) OnComplete(fn func(code int32)) error {
	return t.register(func(_ driver.Event, code int32) {
		t.observe(modeCallback)
		fn(code)
	})
}

func (t *Token) register(cb driver.EventCallback) error {
	if t.closed.Load() {
		return ErrClosed
	}
	st := t.drv.SetEventCallback(t.event, cb)
	switch {
	case st == driver.StatusSuccess:
		return nil
	case isResourceStatus(st):
		return ErrNoMem
	}
	unexpected("clSetEventCallback", st)
	return nil
}

// Word returns the futex signal word. Its address is stable for the life of the Token.
func (t *Token) Word() *atomic.Int32 { return &t.word }

// ClaimFutex moves the signal word from WordUnsignaled to WordClaimed and registers the
// completion handler that stores the terminal status and wakes every waiter. Exactly
// one of several racing callers wins and reports true. When registration fails the
// word goes back to WordUnsignaled.
func (t *Token) ClaimFutex() (bool, error) {
	if t.closed.Load() {
		return false, ErrClosed
	}
	if !t.word.CompareAndSwap(WordUnsignaled, WordClaimed) {
		return false, nil
	}
	metrics.FutexClaims.Inc()
	err := t.register(func(_ driver.Event, code int32) {
		t.word.Store(code)
		futex.Wake(&t.word, futex.All)
		t.observe(modeFutex)
	})
	if err != nil {
		t.word.Store(WordUnsignaled)
		futex.Wake(&t.word, futex.All)
		return true, err
	}
	t.log.Debug("futex wait registered")
	return true, nil
}

// AwaitFutex blocks while the signal word is claimed and returns its value. It returns
// WordUnsignaled when nobody holds a claim.
func (t *Token) AwaitFutex() int32 {
	for {
		v := t.word.Load()
		if v != WordClaimed {
			return v
		}
		futex.Wait(&t.word, WordClaimed)
	}
}

// WaitFutex claims the signal word if nobody has and waits for the terminal status. It
// is safe to call from many goroutines at once; all of them observe the same status.
func (t *Token) WaitFutex() error {
	if t.closed.Load() {
		return ErrClosed
	}
	for {
		if _, err := t.ClaimFutex(); err != nil {
			return err
		}
		code := t.AwaitFutex()
		switch {
		case code == WordUnsignaled:
			continue
		case code < 0:
			return &JobError{Code: code}
		}
		return nil
	}
}

// FD returns a descriptor that becomes readable once the work completes. The
// descriptor is created on first use and closed by Close.
func (t *Token) FD() (int, error) {
	t.fdMu.Lock()
	defer t.fdMu.Unlock()
	if t.closed.Load() {
		return -1, ErrClosed
	}
	if t.notifier != nil {
		return t.notifier.fd, nil
	}
	n, err := newNotifier()
	if err != nil {
		return -1, err
	}
	if err := t.register(func(driver.Event, int32) { n.signal() }); err != nil {
		n.close()
		return -1, err
	}
	t.notifier = n
	return n.fd, nil
}

// Close releases the driver event and the notification descriptor. Waiters and
// registered callbacks still see completion afterwards; any later call on the Token
// returns ErrClosed.
func (t *Token) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	t.fdMu.Lock()
	if t.notifier != nil {
		t.notifier.close()
		t.notifier = nil
	}
	t.fdMu.Unlock()
	if st := t.drv.ReleaseEvent(t.event); st != driver.StatusSuccess {
		return &driver.StatusError{Op: "clReleaseEvent", Status: st}
	}
	return nil
}
