package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/1hive/gardens-points/service/logger"
)

var ErrOutOfRetries = errors.New("tried too many times")

// Retry configures a bounded exponential backoff: waits start at Base
// seconds, double per attempt with jitter, and are capped at Cap seconds.
type Retry struct {
	Base  int
	Cap   int
	Tries int
}

var DefaultRetry = Retry{Base: 1, Cap: 16, Tries: 6}

func (r Retry) wait(attempt int) time.Duration {
	w := math.Min(float64(r.Cap), float64(r.Base)*math.Pow(2, float64(attempt)))
	return time.Duration(rand.Float64()*w*float64(time.Second) + float64(time.Millisecond))
}

// RetryFunc runs f until it succeeds, shouldRetry rejects the error, or the
// attempt budget is exhausted. A nil shouldRetry retries every error.
func RetryFunc(ctx context.Context, f func(ctx context.Context) error, shouldRetry func(error) bool, r Retry) error {
	var err error
	for attempt := 0; attempt < r.Tries; attempt++ {
		if err = f(ctx); err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt == r.Tries-1 {
			break
		}
		logger.For(ctx).Warnf("retrying after error (attempt=%d): %s", attempt, err)
		select {
		case <-time.After(r.wait(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s", ErrOutOfRetries, err)
}

// RetryRequest sends req with c, retrying 429 and 5XX responses.
func RetryRequest(c *http.Client, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := RetryFunc(req.Context(), func(ctx context.Context) error {
		var err error
		resp, err = c.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			return fmt.Errorf("unexpected status: %s", resp.Status)
		}
		return nil
	}, nil, DefaultRetry)
	return resp, err
}
