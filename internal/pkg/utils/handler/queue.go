package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/vgarvardt/gue/v5"
)

type Opts[TM any] struct {
	backoff        gue.Backoff
	timeout        time.Duration
	maxRetries     int32
	failureHandler func(context.Context, *TM, error, *gue.Job) error
}

// Create wraps a typed worker func into a gue work func with
// unmarshalling, timeout, retry with backoff and failure routing.
// Non retryable errors and exhausted retries go to the failure handler
func Create[TM any, SD any](data *SD, hf func(context.Context, *TM, *SD) error, opts *Opts[TM]) gue.WorkFunc {
	if opts == nil {
		goapp.Log.Panic().Msg("no opts provided")
	}
	return func(ctx context.Context, j *gue.Job) error {
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("got msg")

		var m TM
		err := json.Unmarshal(j.Args, &m)
		if err != nil {
			err = utils.NewErrNonRetryable(fmt.Errorf("could not unmarshal message: %w", err))
		} else {
			wrkCtx, cf := context.WithTimeout(ctx, opts.timeout)
			defer cf()
			err = hf(wrkCtx, &m, data)
			if err != nil {
				goapp.Log.Warn().Err(err).Str("queue", j.Queue).Str("type", j.Type).Msg("fail")
			}
		}
		if err == nil {
			return nil
		}
		if utils.IsNonRetryable(err) || j.ErrorCount >= opts.maxRetries {
			if opts.failureHandler != nil {
				if errHandler := opts.failureHandler(ctx, &m, err, j); errHandler != nil {
					goapp.Log.Error().Err(errHandler).Str("queue", j.Queue).Str("type", j.Type).
						Int32("errCount", j.ErrorCount).Msg("failure handler error")
					if j.ErrorCount > opts.maxRetries+5 {
						return nil
					}
					return gue.ErrRescheduleJobIn(opts.backoff(int(j.ErrorCount+1)), errHandler.Error())
				}
			}
			goapp.Log.Warn().Str("queue", j.Queue).Str("type", j.Type).Int32("errCount", j.ErrorCount).Msg("give up")
			return nil
		}
		delay := opts.backoff(int(j.ErrorCount + 1))
		goapp.Log.Info().Str("queue", j.Queue).Str("type", j.Type).Dur("after", delay).Msg("retry after")
		return gue.ErrRescheduleJobIn(delay, err.Error())
	}
}

func DefaultOpts[TM any]() *Opts[TM] {
	return &Opts[TM]{timeout: time.Minute * 15, maxRetries: 3, backoff: DefaultBackoff()}
}

func DefaultBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		d := time.Duration(1 << uint(min32(retries, 6)))
		return time.Second + fullJitter(d*time.Second*5)
	}
}

func NoBackoff() gue.Backoff {
	return func(retries int) time.Duration {
		return 0
	}
}

func DefaultBackoffOrTest(test bool) gue.Backoff {
	if test {
		return NoBackoff()
	}
	return DefaultBackoff()
}

func (o *Opts[TM]) WithFailure(failureHandler func(context.Context, *TM, error, *gue.Job) error) *Opts[TM] {
	o.failureHandler = failureHandler
	return o
}

func (o *Opts[TM]) WithTimeout(timeout time.Duration) *Opts[TM] {
	o.timeout = timeout
	return o
}

func (o *Opts[TM]) WithMaxRetries(c int32) *Opts[TM] {
	o.maxRetries = c
	return o
}

func (o *Opts[TM]) WithBackoff(b gue.Backoff) *Opts[TM] {
	o.backoff = b
	return o
}

// fullJitter return randomized duration in interval [0, t)
// as suggested by https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func fullJitter(t time.Duration) time.Duration {
	// `rand` here is used just for backoff jitter,
	return time.Duration(float64(t) * rand.Float64())
}

func min32(a, b int) int {
	if a < b {
		return a
	}
	return b
}
