package pairing

import (
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// DefaultTTL bounds how long a published code stays live without being
// revoked. A receiver left listening republishes nothing; the TTL protects
// against codes outliving a crashed receiver.
const DefaultTTL = time.Hour

// maxPublishAttempts bounds the collision retry loop in Publish.
const maxPublishAttempts = 16

// Registry maps live pairing codes to endpoints. It is process-scoped
// state with an explicit lifecycle: create one at startup and inject it
// into the discovery responder and the session controller.
//
// A code resolves to at most one live endpoint at a time.
type Registry struct {
	entries *cache.Cache
}

// NewRegistry creates a registry whose entries expire after ttl.
// A non-positive ttl selects DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		entries: cache.New(ttl, ttl/2),
	}
}

// Publish registers the endpoint under a freshly generated code and
// returns the code. Generation retries on collision with live codes.
func (r *Registry) Publish(ep Endpoint) (string, error) {
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		// Add fails if the code is already live, which is exactly the
		// collision check we need.
		if err := r.entries.Add(code, ep, cache.DefaultExpiration); err != nil {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "Registry.Publish",
			"endpoint": ep.String(),
		}).Info("Published pairing code")
		return code, nil
	}
	return "", ErrNoFreeCode
}

// Resolve returns the live endpoint registered under code. It fails with
// ErrInvalidCode for malformed input (before any lookup) and ErrNotFound
// when no live mapping exists or it has expired.
func (r *Registry) Resolve(code string) (Endpoint, error) {
	if err := ValidateCode(code); err != nil {
		return Endpoint{}, err
	}
	v, ok := r.entries.Get(code)
	if !ok {
		return Endpoint{}, ErrNotFound
	}
	return v.(Endpoint), nil
}

// Revoke removes the mapping for code. Revoking an unknown code is a no-op.
func (r *Registry) Revoke(code string) {
	r.entries.Delete(code)
	logrus.WithFields(logrus.Fields{
		"function": "Registry.Revoke",
	}).Debug("Revoked pairing code")
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	return r.entries.ItemCount()
}
