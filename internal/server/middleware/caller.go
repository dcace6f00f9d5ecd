package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakeregistry/internal/crypto"
)

// Request headers carrying the caller identity.
const (
	HeaderAddress   = "X-Registry-Address"
	HeaderSignature = "X-Registry-Signature"
	HeaderTimestamp = "X-Registry-Timestamp"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// CallerConfig controls caller authentication.
type CallerConfig struct {
	RequireSignatures bool
	MaxSkew           time.Duration
	Now               func() time.Time
}

// Caller resolves the caller address from X-Registry-Address. With
// signatures required, the address must also have signed the request
// (see crypto.RequestDigest) within MaxSkew of now. Requests without the
// header pass through anonymously.
func Caller(cfg CallerConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAddress)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid "+HeaderAddress)
				return
			}

			if cfg.RequireSignatures {
				if status, msg := verify(r, addr, cfg); status != 0 {
					writeJSONError(w, status, msg)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func verify(r *http.Request, addr common.Address, cfg CallerConfig) (int, string) {
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return http.StatusUnauthorized, "missing or invalid " + HeaderTimestamp
	}
	skew := cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.MaxSkew {
		return http.StatusUnauthorized, "request timestamp outside allowed skew"
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return http.StatusBadRequest, "failed to read body"
		}
		if len(body) > maxSignedBody {
			return http.StatusRequestEntityTooLarge, "request body too large"
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer, err := crypto.RecoverRequestSigner(r.Header.Get(HeaderSignature), r.Method, r.URL.Path, ts, body)
	if err != nil || signer != addr {
		return http.StatusUnauthorized, "invalid request signature"
	}
	return 0, ""
}

// WithCaller attaches the authenticated caller to ctx.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the caller attached by Caller.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}
