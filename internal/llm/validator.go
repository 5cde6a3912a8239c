package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/factgate/factgate/internal/worker"
)

// Validator wraps a provider with rate limiting and response
// memoization. Verdicts are deterministic enough to memoize: the same
// content, candidates, and model get the cached verdict back instead
// of a second paid call.
type Validator struct {
	provider Provider
	memo     *gocache.Cache
	limiter  *worker.Limiter
}

// NewValidator wraps the provider. provider may be nil (validation
// disabled); requestsPerSecond <= 0 falls back to 1 rps.
func NewValidator(provider Provider, requestsPerSecond float64) *Validator {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &Validator{
		provider: provider,
		memo:     gocache.New(30*time.Minute, 10*time.Minute),
		limiter:  worker.NewLimiter(requestsPerSecond, 1),
	}
}

// Enabled reports whether a provider is configured
func (v *Validator) Enabled() bool {
	return v.provider != nil
}

// Validate runs one semantic validation call through the limiter,
// consulting the memo first.
func (v *Validator) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	if v.provider == nil {
		return nil, fmt.Errorf("semantic validation is not configured")
	}

	key := memoKey(req)
	if cached, found := v.memo.Get(key); found {
		return cached.(*ValidateResponse), nil
	}

	if err := v.limiter.Wait(ctx, v.provider.Name()); err != nil {
		return nil, err
	}

	resp, err := v.provider.ValidateSemantics(ctx, req)
	if err != nil {
		return nil, err
	}

	v.memo.Set(key, resp, gocache.DefaultExpiration)
	return resp, nil
}

func memoKey(req ValidateRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Content))
	h.Write([]byte(req.Model))
	for _, c := range req.Candidates {
		fmt.Fprintf(h, "%s:%d;", c.FactID, c.StartOffset)
	}
	return hex.EncodeToString(h.Sum(nil))
}
