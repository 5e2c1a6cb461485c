package ticketgate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KeyPrefix prefixes ticket secrets held in a KeySource.
const KeyPrefix = "key."

var errNoKeys = errors.New("no signing keys configured")

// KeyStore maps key ids to shared secrets. It is immutable once built and
// safe for concurrent use without locking.
type KeyStore struct {
	keys map[string][]byte
}

// NewKeyStore copies keys, dropping blank ids and secrets. An empty result
// is a *ConfigError.
func NewKeyStore(keys map[string]string) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[string][]byte, len(keys))}
	for kid, secret := range keys {
		kid = strings.TrimSpace(kid)
		if kid == "" || secret == "" {
			continue
		}
		ks.keys[kid] = []byte(secret)
	}
	if len(ks.keys) == 0 {
		return nil, &ConfigError{Setting: "ticket.keys", Err: errNoKeys}
	}
	return ks, nil
}

// Lookup returns the secret for kid. The returned slice must not be modified.
func (ks *KeyStore) Lookup(kid string) ([]byte, bool) {
	s, ok := ks.keys[kid]
	return s, ok
}

// KeyIDs returns the configured key ids in order.
func (ks *KeyStore) KeyIDs() []string {
	ids := make([]string, 0, len(ks.keys))
	for id := range ks.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KeySource is read-only access to stored secrets. tstore.DataStore
// satisfies it.
type KeySource interface {
	List(prefix string) ([]string, error)
	Get(key string, decrypt bool) ([]byte, error)
}

// KeySink stores secrets. tstore.DataStore satisfies it.
type KeySink interface {
	Set(key string, encrypt bool, value []byte) error
}

// LoadKeyStore reads every encrypted KeyPrefix entry from src, then applies
// inline, which wins on conflicts. src may be nil.
func LoadKeyStore(src KeySource, inline map[string]string) (*KeyStore, error) {
	merged := make(map[string]string, len(inline))
	if src != nil {
		names, err := src.List(KeyPrefix)
		if err != nil {
			return nil, &ConfigError{Setting: "ticket.key-store", Err: err}
		}
		for _, name := range names {
			secret, err := src.Get(name, true)
			if err != nil {
				return nil, &ConfigError{Setting: "ticket.key-store", Err: fmt.Errorf("read %s: %w", name, err)}
			}
			merged[strings.TrimPrefix(name, KeyPrefix)] = string(secret)
		}
	}
	for kid, secret := range inline {
		merged[kid] = secret
	}
	return NewKeyStore(merged)
}

// SaveKey stores secret for kid in dst, encrypted at rest.
func SaveKey(dst KeySink, kid string, secret []byte) error {
	kid = strings.TrimSpace(kid)
	if kid == "" || hasControl(kid) {
		return invalid(ErrInvalidField, "kid")
	}
	if len(secret) == 0 {
		return invalid(ErrMissingField, "secret")
	}
	return dst.Set(KeyPrefix+kid, true, secret)
}
