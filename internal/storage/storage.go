// Package storage defines the uniform StorageProvider contract and a
// registry of concrete backends (local filesystem, MongoDB GridFS, S3,
// Azure Blob Storage). The engine is provider-agnostic: it only ever
// depends on the Provider interface.
package storage

import "context"

// Provider is the capability set every storage backend exposes. put is
// atomic with respect to crash: the returned storagePath must not be
// observable by get/exists unless the full payload is durable. delete is
// idempotent and returns false (not an error) for a non-existent chunk.
type Provider interface {
	// ProviderID is the unique, lowercase identifier for this provider
	// instance. Round-robin placement order is the provider's position in
	// the Set, not its ID or registration order.
	ProviderID() string

	// ProviderType is a human-readable backend kind ("local", "gridfs",
	// "s3", "azureblob").
	ProviderType() string

	Put(ctx context.Context, chunkID string, data []byte, correlationID string) (storagePath string, err error)
	Get(ctx context.Context, chunkID, storagePath, correlationID string) ([]byte, error)
	Exists(ctx context.Context, chunkID, storagePath, correlationID string) (bool, error)
	Delete(ctx context.Context, chunkID, storagePath, correlationID string) (bool, error)

	// Close releases any resources held by the provider (connections,
	// file handles). Safe to call once during teardown.
	Close() error
}

// Constructor builds a Provider from its declared params (as read from
// config.ProviderConfig.Params). Each backend registers its own
// constructor under its provider type name.
type Constructor func(id string, params map[string]string) (Provider, error)

var constructors = map[string]Constructor{}

// Register adds a named constructor to the registry. Called from each
// backend's init() or explicitly from main() during startup wiring.
func Register(providerType string, ctor Constructor) {
	constructors[providerType] = ctor
}

// New constructs a Provider of the given type using the registered
// constructor.
func New(providerType, id string, params map[string]string) (Provider, error) {
	ctor, ok := constructors[providerType]
	if !ok {
		return nil, &UnknownProviderTypeError{Type: providerType}
	}
	return ctor(id, params)
}

// UnknownProviderTypeError is returned by New when no constructor is
// registered for the requested provider type.
type UnknownProviderTypeError struct {
	Type string
}

func (e *UnknownProviderTypeError) Error() string {
	return "storage: unknown provider type " + e.Type
}

// Set is the ordered, read-only-after-construction collection of
// providers an engine places chunks across. Order fixes round-robin
// placement order.
type Set struct {
	ordered []Provider
	byID    map[string]Provider
}

// NewSet builds a Set from providers in the given order.
func NewSet(providers ...Provider) *Set {
	byID := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byID[p.ProviderID()] = p
	}
	return &Set{ordered: providers, byID: byID}
}

// Len returns the number of providers in the set.
func (s *Set) Len() int { return len(s.ordered) }

// ForSequence returns the provider that owns chunk i under round-robin
// placement: provider i mod k, in configured order.
func (s *Set) ForSequence(i int) Provider {
	if len(s.ordered) == 0 {
		return nil
	}
	return s.ordered[i%len(s.ordered)]
}

// ByID resolves a provider by id. Returns nil if not present: a missing
// provider is a fatal error for the chunk that referenced it, not for
// its siblings, so callers check for nil rather than receiving an error.
func (s *Set) ByID(id string) Provider {
	return s.byID[id]
}

// Close releases every provider in the set, collecting (but not
// aborting on) individual close errors.
func (s *Set) Close() error {
	var first error
	for _, p := range s.ordered {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
