package credential

import "context"

// Store persists credentials. internal/store implements this against
// sqlite; the Validator, internal/adminapi, and cmd/pylon's user-rule loader
// depend only on this interface, never on the concrete storage engine.
type Store interface {
	// GetByHash looks up a credential by its token hash. Returns
	// (nil, nil) if no credential has that hash.
	GetByHash(ctx context.Context, hash string) (*Credential, error)
	GetByID(ctx context.Context, id string) (*Credential, error)
	List(ctx context.Context) ([]*Credential, error)
	Create(ctx context.Context, c *Credential) error
	Update(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, id string) error
}
