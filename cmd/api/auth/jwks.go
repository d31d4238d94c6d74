package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog/log"
)

// JWKS holds a key set fetched from an OIDC provider.
type JWKS struct {
	url    string
	client *http.Client

	mu  sync.RWMutex
	set jwk.Set
}

// FetchJWKS loads the key set at url.
func FetchJWKS(ctx context.Context, url string) (*JWKS, error) {
	j := &JWKS{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	if err := j.Refresh(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *JWKS) Refresh(ctx context.Context) error {
	set, err := jwk.Fetch(ctx, j.url, jwk.WithHTTPClient(j.client))
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.set = set
	j.mu.Unlock()
	return nil
}

// RefreshEvery refetches the set on a ticker until ctx is done. A failed
// fetch keeps the previous keys.
func (j *JWKS) RefreshEvery(ctx context.Context, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := j.Refresh(ctx); err != nil {
				log.Error().Err(err).Str("jwks_url", j.url).Msg("refresh jwks")
			}
		}
	}
}

// Keyfunc picks the key named by the token's kid, or the first key in the
// set when the token carries none.
func (j *JWKS) Keyfunc(t *jwt.Token) (interface{}, error) {
	j.mu.RLock()
	set := j.set
	j.mu.RUnlock()

	kid, _ := t.Header["kid"].(string)
	var key jwk.Key
	if kid != "" {
		key, _ = set.LookupKeyID(kid)
	} else if set.Len() > 0 {
		key, _ = set.Key(0)
	}
	if key == nil {
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}
	var pub any
	if err := key.Raw(&pub); err != nil {
		return nil, err
	}
	return pub, nil
}
