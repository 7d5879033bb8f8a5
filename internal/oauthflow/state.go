package oauthflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"integration-gateway/internal/common/errors"
)

// StateTTL is how long a pending authorization may sit before its state
// expires and the callback is rejected.
const StateTTL = 10 * time.Minute

// OAuthState is the CSRF envelope carried through the authorization redirect
// as the state parameter. The PKCE verifier never leaves the gateway; it is
// stored server-side keyed by nonce.
type OAuthState struct {
	Tenant    string `json:"tenant"`
	Platform  string `json:"platform"`
	Timestamp int64  `json:"ts"`
	Nonce     string `json:"nonce"`
}

// Encode serializes the state for the authorization URL.
func (s OAuthState) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", errors.InternalError("failed to encode oauth state", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState parses a state parameter back into its envelope.
func DecodeState(encoded string) (OAuthState, error) {
	var state OAuthState
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return state, errors.InvalidStateError("malformed state parameter")
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, errors.InvalidStateError("malformed state envelope")
	}
	if state.Nonce == "" || state.Platform == "" {
		return state, errors.InvalidStateError("incomplete state envelope")
	}
	return state, nil
}

// pendingAuth is what the gateway remembers about an issued authorization URL
// until its callback arrives.
type pendingAuth struct {
	State        OAuthState `json:"state"`
	PKCEVerifier string     `json:"pkce_verifier,omitempty"`
}

// StateStore persists pending authorizations. Consume is one-shot: a second
// consume of the same nonce fails, which defeats replayed callbacks.
type StateStore interface {
	Save(ctx context.Context, nonce string, pending pendingAuth, ttl time.Duration) error
	Consume(ctx context.Context, nonce string) (pendingAuth, error)
}

// MemoryStateStore keeps pending authorizations in process memory. Suitable
// for single-instance deployments; multi-instance setups need Redis so any
// instance can serve the callback.
type MemoryStateStore struct {
	mu      sync.Mutex
	pending map[string]memoryState
}

type memoryState struct {
	auth      pendingAuth
	expiresAt time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{pending: make(map[string]memoryState)}
}

func (m *MemoryStateStore) Save(_ context.Context, nonce string, pending pendingAuth, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Opportunistic sweep keeps abandoned authorizations from piling up
	now := time.Now()
	for key, entry := range m.pending {
		if now.After(entry.expiresAt) {
			delete(m.pending, key)
		}
	}

	m.pending[nonce] = memoryState{auth: pending, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStateStore) Consume(_ context.Context, nonce string) (pendingAuth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[nonce]
	if !ok {
		return pendingAuth{}, errors.InvalidStateError("unknown or already used state")
	}
	delete(m.pending, nonce)

	if time.Now().After(entry.expiresAt) {
		return pendingAuth{}, errors.InvalidStateError("state expired")
	}
	return entry.auth, nil
}

// RedisStateStore persists pending authorizations in Redis with native TTLs,
// so callbacks can land on any gateway instance.
type RedisStateStore struct {
	client *redis.Client
}

const statePrefix = "oauthstate:"

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) Save(ctx context.Context, nonce string, pending pendingAuth, ttl time.Duration) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return errors.InternalError("failed to marshal oauth state", err)
	}
	if err := r.client.Set(ctx, statePrefix+nonce, data, ttl).Err(); err != nil {
		return errors.ConnectionError("failed to save oauth state", err)
	}
	return nil
}

func (r *RedisStateStore) Consume(ctx context.Context, nonce string) (pendingAuth, error) {
	// GETDEL makes consumption atomic across instances
	data, err := r.client.GetDel(ctx, statePrefix+nonce).Bytes()
	if err == redis.Nil {
		return pendingAuth{}, errors.InvalidStateError("unknown or already used state")
	}
	if err != nil {
		return pendingAuth{}, errors.ConnectionError("failed to consume oauth state", err)
	}

	var pending pendingAuth
	if err := json.Unmarshal(data, &pending); err != nil {
		return pendingAuth{}, errors.InternalError("failed to unmarshal oauth state", err)
	}
	return pending, nil
}
