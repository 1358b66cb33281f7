package tenant

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store

import "context"

// Store persists tenant records and messaging credentials.
type Store interface {
	SaveTenant(ctx context.Context, rec *Record) error
	LoadTenants(ctx context.Context) ([]*Record, error)
	DeleteTenant(ctx context.Context, tenantID string) error

	// LoadCredentials returns nil, nil when the tenant has none.
	SaveCredentials(ctx context.Context, tenantID string, blob []byte) error
	LoadCredentials(ctx context.Context, tenantID string) ([]byte, error)
	DeleteCredentials(ctx context.Context, tenantID string) error
}
