// Package location acquires a single device position fix with cancellation.
//
// Position providers are callback based: a request is started and the
// provider later reports a fix, an empty result, or an error. The Acquirer
// turns one such request into a blocking call bounded by a context and a
// timeout. Once Acquire returns, a late callback from the provider is
// discarded and can no longer reach the caller.
package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single fix request when the caller passes zero.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNoFix indicates the provider answered without a position.
	ErrNoFix = errors.New("could not retrieve location")

	// ErrTimeout indicates no answer arrived before the acquisition timeout.
	ErrTimeout = errors.New("location request timed out")
)

// Position is a device fix with platform-native precision.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Strings returns latitude, longitude, and altitude as decimal strings in
// the format the remote authority expects.
func (p Position) Strings() (lat, lon, alt string) {
	return FormatCoordinate(p.Latitude), FormatCoordinate(p.Longitude), FormatCoordinate(p.Altitude)
}

func (p Position) String() string {
	lat, lon, alt := p.Strings()
	return fmt.Sprintf("(%s, %s, %s)", lat, lon, alt)
}

// FormatCoordinate renders v in plain decimal notation with the shortest
// representation that round-trips. Integral values keep a ".0" suffix
// (100 -> "100.0").
func FormatCoordinate(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// Callback receives the outcome of one position request. A nil position
// with a nil error means the provider had no fix.
type Callback func(pos *Position, err error)

// Provider issues asynchronous position requests.
type Provider interface {
	// RequestCurrent starts one request and returns a function that cancels it.
	// cb is invoked at most once; it may run on any goroutine.
	RequestCurrent(cb Callback) (cancel func())
}

// Acquirer wraps exactly one Provider request per Acquire call.
type Acquirer struct {
	provider Provider
	Timeout  time.Duration // used when Acquire is passed zero; defaults to DefaultTimeout
}

// NewAcquirer creates an acquirer for the given provider.
func NewAcquirer(p Provider) *Acquirer {
	return &Acquirer{provider: p, Timeout: DefaultTimeout}
}

type outcome struct {
	pos *Position
	err error
}

// Acquire requests the current position and waits for the outcome.
//
// Outcomes:
//   - fix delivered: the position
//   - provider reports no fix: ErrNoFix
//   - provider error: that error
//   - timeout elapsed: ErrTimeout (request canceled)
//   - ctx canceled: ctx.Err() (request canceled)
//
// After Acquire returns the provider callback is inert.
func (a *Acquirer) Acquire(ctx context.Context, timeout time.Duration) (*Position, error) {
	if timeout <= 0 {
		timeout = a.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	var (
		mu     sync.Mutex
		closed bool
	)
	results := make(chan outcome, 1)

	cancel := a.provider.RequestCurrent(func(pos *Position, err error) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		results <- outcome{pos: pos, err: err}
	})

	select {
	case res := <-results:
		if cancel != nil {
			cancel()
		}
		if res.err != nil {
			return nil, res.err
		}
		if res.pos == nil {
			return nil, ErrNoFix
		}
		pos := *res.pos
		return &pos, nil

	case <-reqCtx.Done():
		mu.Lock()
		closed = true
		mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}
}
