package keyring

import (
	"fmt"
	"sync"
	"time"

	"nakula/pkg/core"
)

// RotationStrategy controls when the ring advances to the next key.
type RotationStrategy int

const (
	// RotationManual never rotates automatically.
	RotationManual RotationStrategy = iota
	// RotationOnError rotates whenever a request with the current key fails.
	RotationOnError
	// RotationOnRateLimit rotates only on rate-limit failures, spreading
	// load across keys without abandoning a key for transient errors.
	RotationOnRateLimit
)

// APIKey is one credential set in the ring, with its usage bookkeeping.
type APIKey struct {
	ID          string
	Credentials core.Credentials
	Disabled    bool
	LastUsed    time.Time
	ErrorCount  int
}

// String renders the key with its secret material masked.
func (k *APIKey) String() string {
	return fmt.Sprintf("APIKey{ID:%s, Key:%s}", k.ID, maskKey(k.Credentials.APIKey))
}

// KeyRing holds a rotating set of API credentials. Requests sign with the
// current key; the ring advances according to its strategy when keys fail.
type KeyRing struct {
	mu       sync.RWMutex
	keys     []*APIKey
	current  int
	strategy RotationStrategy
}

// New creates a key ring over copies of the given keys.
func New(keys []*APIKey, strategy RotationStrategy) *KeyRing {
	copied := make([]*APIKey, len(keys))
	for i, k := range keys {
		dup := *k
		copied[i] = &dup
	}
	return &KeyRing{keys: copied, strategy: strategy}
}

// FromCredentials creates a single-key ring, the common case of one
// configured credential set.
func FromCredentials(creds core.Credentials) *KeyRing {
	return New([]*APIKey{{ID: "default", Credentials: creds}}, RotationManual)
}

// Current returns the active key, skipping disabled ones. It returns
// ErrNoAPIKey when every key is disabled or the ring is empty.
func (k *KeyRing) Current() (*APIKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	for i := range k.keys {
		idx := (k.current + i) % len(k.keys)
		if !k.keys[idx].Disabled {
			return k.keys[idx], nil
		}
	}
	return nil, core.ErrNoAPIKey
}

// Rotate advances to the next enabled key.
func (k *KeyRing) Rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.rotateLocked()
}

func (k *KeyRing) rotateLocked() {
	if len(k.keys) == 0 {
		return
	}
	start := k.current
	for {
		k.current = (k.current + 1) % len(k.keys)
		if !k.keys[k.current].Disabled || k.current == start {
			return
		}
	}
}

// OnError records a failure against the current key and rotates if the
// strategy calls for it. Rate-limit classification comes from the error
// itself.
func (k *KeyRing) OnError(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return
	}
	k.keys[k.current].ErrorCount++

	switch k.strategy {
	case RotationOnError:
		k.rotateLocked()
	case RotationOnRateLimit:
		if core.IsRateLimitError(err) {
			k.rotateLocked()
		}
	}
}

// MarkUsed stamps the current key with the time of its last use.
func (k *KeyRing) MarkUsed() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return
	}
	k.keys[k.current].LastUsed = time.Now()
}

// Disable takes the identified key out of rotation.
func (k *KeyRing) Disable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = true
			return
		}
	}
}

// Enable returns the identified key to rotation and clears its error count.
func (k *KeyRing) Enable(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range k.keys {
		if key.ID == id {
			key.Disabled = false
			key.ErrorCount = 0
			return
		}
	}
}

// Len returns the number of keys in the ring, including disabled ones.
func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
