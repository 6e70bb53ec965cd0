// Package access verifies inbound identity assertions against the identity
// provider: signed tokens checked against a remotely hosted, rotating key
// set, or a static service-token pair for service-to-service calls.
package access

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/bracketai/usagegate/domain/identity"
	"github.com/bracketai/usagegate/ports"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// certsPath is where the identity provider serves its signing-key set,
// relative to the team domain.
const certsPath = "/cdn-cgi/access/certs"

// Config configures the verifier.
type Config struct {
	// TeamDomain is the identity provider base URL and expected issuer,
	// e.g. https://yourteam.cloudflareaccess.com
	TeamDomain string
	// Audience is the application audience tag tokens must carry.
	Audience string
	// ServiceID and ServiceSecret form the optional static credential pair
	// accepted for service-to-service calls.
	ServiceID     string
	ServiceSecret string
	// KeysTTL bounds how long a fetched key set is trusted without refresh.
	KeysTTL time.Duration
	// HTTPTimeout bounds the key-set fetch.
	HTTPTimeout time.Duration
}

// Verifier validates tokens against a cached remote key set. The key cache
// follows a single-writer/many-reader discipline: reads take an RLock, only
// a refresh swaps the map, and no lock is held during the fetch itself.
type Verifier struct {
	cfg        Config
	httpClient *http.Client
	clock      ports.Clock
	logger     zerolog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	// fetchMu serializes refreshes so concurrent verifications do not
	// stampede the key endpoint.
	fetchMu sync.Mutex
}

// New creates a verifier.
func New(cfg Config, clk ports.Clock, logger zerolog.Logger) *Verifier {
	if cfg.KeysTTL == 0 {
		cfg.KeysTTL = time.Hour
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Verifier{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		clock:      clk,
		logger:     logger.With().Str("component", "access").Logger(),
	}
}

// claims are the token claims we care about.
type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verify validates the supplied credentials and returns the identity.
// All failures are *identity.AuthError.
func (v *Verifier) Verify(ctx context.Context, creds identity.Credentials) (identity.Identity, error) {
	if creds.Empty() {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonMissingCredentials, nil)
	}

	if creds.ServiceID != "" || creds.ServiceSecret != "" {
		return v.verifyServicePair(creds)
	}

	return v.verifyToken(ctx, creds.Token)
}

// verifyServicePair checks the static service-token header pair in constant
// time. Static credentials carry no per-request expiry.
func (v *Verifier) verifyServicePair(creds identity.Credentials) (identity.Identity, error) {
	if v.cfg.ServiceID == "" || v.cfg.ServiceSecret == "" {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonBadSignature,
			errors.New("service credentials not configured"))
	}

	idOK := subtle.ConstantTimeCompare([]byte(creds.ServiceID), []byte(v.cfg.ServiceID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(creds.ServiceSecret), []byte(v.cfg.ServiceSecret)) == 1
	if !idOK || !secretOK {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonBadSignature,
			errors.New("service token mismatch"))
	}

	return identity.Identity{
		Subject:  creds.ServiceID,
		Audience: v.cfg.Audience,
	}, nil
}

// Sentinel errors surfaced through the jwt keyfunc.
var (
	errKeysetUnreachable = errors.New("key set unreachable")
	errUnknownKeyID      = errors.New("unknown key id")
)

func (v *Verifier) verifyToken(ctx context.Context, raw string) (identity.Identity, error) {
	var cl claims
	token, err := jwt.ParseWithClaims(raw, &cl, v.keyfunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(v.cfg.TeamDomain),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return identity.Identity{}, identity.NewAuthError(classify(err), err)
	}
	if !token.Valid {
		return identity.Identity{}, identity.NewAuthError(identity.ReasonBadSignature,
			errors.New("invalid token"))
	}

	subject := cl.Subject
	if cl.Email != "" {
		subject = cl.Email
	}
	return identity.Identity{
		Subject:   subject,
		Audience:  v.cfg.Audience,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}

func classify(err error) identity.AuthReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return identity.ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return identity.ReasonBadAudience
	case errors.Is(err, errKeysetUnreachable):
		return identity.ReasonUnreachableKeyset
	default:
		return identity.ReasonBadSignature
	}
}

// keyfunc resolves the signing key for a token. An unknown key id forces one
// key-set refetch before giving up, tolerating key rotation.
func (v *Verifier) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}

		key, ok, seen := v.cachedKey(kid)
		if ok {
			return key, nil
		}
		if err := v.refreshKeys(ctx, seen); err != nil {
			return nil, fmt.Errorf("%w: %v", errKeysetUnreachable, err)
		}
		if key, ok, _ := v.cachedKey(kid); ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: %q", errUnknownKeyID, kid)
	}
}

// cachedKey returns the key for kid if the cached set is present and fresh,
// along with the fetch stamp of the set it consulted.
func (v *Verifier) cachedKey(kid string) (*rsa.PublicKey, bool, time.Time) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.keys == nil || v.clock.Now().Sub(v.fetchedAt) > v.cfg.KeysTTL {
		return nil, false, v.fetchedAt
	}
	key, ok := v.keys[kid]
	return key, ok, v.fetchedAt
}

// refreshKeys fetches the key set and swaps the cache. The fetch happens
// without holding the read lock; only the swap takes the write lock. seen is
// the fetch stamp the caller observed its miss against: if another
// verification already refreshed past it, the refetch is skipped.
func (v *Verifier) refreshKeys(ctx context.Context, seen time.Time) error {
	v.fetchMu.Lock()
	defer v.fetchMu.Unlock()

	v.mu.RLock()
	refreshed := v.keys != nil && v.fetchedAt.After(seen)
	v.mu.RUnlock()
	if refreshed {
		return nil
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = v.clock.Now()
	v.mu.Unlock()

	v.logger.Debug().Int("keys", len(keys)).Msg("signing key set refreshed")
	return nil
}

// jwks is the key-distribution wire format.
type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.cfg.HTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, v.cfg.TeamDomain+certsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create certs request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch certs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("certs endpoint returned %d", resp.StatusCode)
	}

	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode certs: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k.N, k.E)
		if err != nil {
			v.logger.Warn().Err(err).Str("kid", k.Kid).Msg("skipping unparseable signing key")
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("key set contains no usable keys")
	}
	return keys, nil
}

func parseRSAKey(rawN, rawE string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(rawN)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(rawE)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid exponent %d", e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// Ensure interface compliance.
var _ ports.Verifier = (*Verifier)(nil)
