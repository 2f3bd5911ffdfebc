package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gabmdln/stablecoin-pipeline/internal/config"
	"github.com/rs/zerolog/log"
)

// ReqError is returned when a request has exhausted all retry attempts.
type ReqError struct {
	Endpoint string
	Attempts int
}

func (e *ReqError) Error() string {
	return fmt.Sprintf("request to %v failed after %v attempts", e.Endpoint, e.Attempts)
}

// REST is for making rate-limited REST API requests with retry.
type REST struct {
	HTTPClient *http.Client
	apiKey     string
	rateDelay  time.Duration
	maxRetries int

	// sleep is replaceable so retry timing can be observed in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewREST creates a REST connection with the configured API key and the
// fixed rate limit and retry settings.
func NewREST(cfg *config.Config) *REST {
	return &REST{
		HTTPClient: &http.Client{Timeout: config.ReqTimeout},
		apiKey:     cfg.APIKey,
		rateDelay:  config.RateLimitDelay,
		maxRetries: config.MaxRetries,
		sleep:      ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	tick := time.NewTimer(d)
	defer tick.Stop()
	select {
	case <-tick.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get makes a GET request to the given url with query parameters and
// returns the response body on HTTP 200.
//
// Every outbound attempt is preceded by the rate limit delay. A 429
// response waits min(60*2^attempt, 300) seconds before the next attempt.
// Any other failure waits 2^attempt seconds between attempts. Both kinds
// of failure consume one attempt from the same budget.
func (r *REST) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if r.apiKey != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("x_cg_demo_api_key", r.apiKey)
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if err := r.sleep(ctx, r.rateDelay); err != nil {
			return nil, err
		}

		log.Debug().Str("endpoint", endpoint).Int("attempt", attempt+1).Msg("API request")
		body, rateLimited, err := r.do(ctx, endpoint, query)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if rateLimited {
			wait := time.Duration(60*(1<<attempt)) * time.Second
			if wait > 300*time.Second {
				wait = 300 * time.Second
			}
			log.Warn().Str("endpoint", endpoint).Dur("wait", wait).Msg("rate limited, backing off")
			if err := r.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).Msg("request failed")
		if attempt < r.maxRetries-1 {
			if err := r.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, err
			}
		}
	}

	log.Error().Str("endpoint", endpoint).Int("attempts", r.maxRetries).Msg("request gave up")
	return nil, &ReqError{Endpoint: endpoint, Attempts: r.maxRetries}
}

func (r *REST) do(ctx context.Context, endpoint string, query url.Values) (body []byte, rateLimited bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		return body, false, nil
	case http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("status %v", resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("status %v: %s", resp.StatusCode, snippet)
	}
}
