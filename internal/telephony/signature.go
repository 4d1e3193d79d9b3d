package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/95percent-ai/butt-dial-sub003/pkg/utils"
)

var (
	ErrBadSignature   = errors.New("telephony: signature mismatch")
	ErrStaleTimestamp = errors.New("telephony: stale webhook timestamp")
	ErrReplayed       = errors.New("telephony: replayed webhook")
)

// NonceGuard remembers webhook nonces for the freshness window so a
// captured request cannot be replayed. Backed by Redis SET NX in
// production.
type NonceGuard interface {
	// MarkSeen returns false when the nonce was already recorded.
	MarkSeen(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Verifier checks webhook authenticity: an HMAC-SHA256 signature over the
// canonical payload, a timestamp freshness window, and a one-time nonce.
type Verifier struct {
	secret       []byte
	replayWindow time.Duration
	nonces       NonceGuard

	clock func() time.Time
}

func NewVerifier(secret string, replayWindow time.Duration, nonces NonceGuard) *Verifier {
	return &Verifier{
		secret:       []byte(secret),
		replayWindow: replayWindow,
		nonces:       nonces,
		clock:        time.Now,
	}
}

// SetClock overrides the time source; tests only.
func (v *Verifier) SetClock(now func() time.Time) { v.clock = now }

// CanonicalPayload is the signed string: the full request URL followed by
// the form parameters sorted by key, each appended as key+value. This is
// the scheme Twilio documents for X-Twilio-Signature, with SHA-256 in
// place of SHA-1.
func CanonicalPayload(url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, val := range form[k] {
			b.WriteString(k)
			b.WriteString(val)
		}
	}
	return b.String()
}

// Sign computes the hex HMAC for a canonical payload. Exposed so tests
// and outbound callbacks can produce valid signatures.
func (v *Verifier) Sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRequest checks the signature, timestamp and nonce headers on a
// form-encoded webhook. The form must already be parsed.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request) error {
	return v.verify(ctx, r, CanonicalPayload(requestURL(r), r.PostForm))
}

// VerifyBody authenticates webhooks carrying a raw (JSON) body: the signed
// string is the request URL followed by the body bytes.
func (v *Verifier) VerifyBody(ctx context.Context, r *http.Request, body []byte) error {
	return v.verify(ctx, r, requestURL(r)+string(body))
}

func (v *Verifier) verify(ctx context.Context, r *http.Request, canonical string) error {
	sig := r.Header.Get("X-Webhook-Signature")
	tsHeader := r.Header.Get("X-Webhook-Timestamp")
	nonce := r.Header.Get("X-Webhook-Nonce")
	if sig == "" || tsHeader == "" || nonce == "" {
		return ErrBadSignature
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	now := v.clock()
	sent := time.Unix(ts, 0)
	if sent.Before(now.Add(-v.replayWindow)) || sent.After(now.Add(v.replayWindow)) {
		return ErrStaleTimestamp
	}

	payload := canonical + tsHeader + nonce
	want := v.Sign(payload)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}

	if v.nonces != nil {
		fresh, err := v.nonces.MarkSeen(ctx, nonce, 2*v.replayWindow)
		if err != nil {
			return err
		}
		if !fresh {
			return ErrReplayed
		}
	}
	return nil
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// RedisNonceGuard shares the seen-nonce set across gateway instances so a
// replay against a different node is still caught.
type RedisNonceGuard struct {
	rdb *redis.Client
}

func NewRedisNonceGuard(rdb *redis.Client) *RedisNonceGuard {
	return &RedisNonceGuard{rdb: rdb}
}

func (g *RedisNonceGuard) MarkSeen(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	seen, err := utils.MarkNonceSeen(ctx, g.rdb, "webhook:nonce:"+nonce, ttl)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// MemoryNonceGuard is an in-process NonceGuard for tests and single-node
// development.
type MemoryNonceGuard struct {
	seen map[string]time.Time
}

func NewMemoryNonceGuard() *MemoryNonceGuard {
	return &MemoryNonceGuard{seen: make(map[string]time.Time)}
}

func (g *MemoryNonceGuard) MarkSeen(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	now := time.Now()
	if exp, ok := g.seen[nonce]; ok && exp.After(now) {
		return false, nil
	}
	g.seen[nonce] = now.Add(ttl)
	return true, nil
}
