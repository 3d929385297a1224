// Package httpapi extracts one partition of a paginated HTTP API into the
// landing zone. It provides the api_users_extract and api_sessions_extract
// operations, which differ only in the endpoint they read by default.
package httpapi

import (
	"net/http"
	"time"

	"github.com/vk/medallion/internal/registry"
)

// Operation names registered by this module.
const (
	UsersOperation    = "api_users_extract"
	SessionsOperation = "api_sessions_extract"
)

// DefaultClientTimeout bounds a single page request. The task's own timeout
// bounds the whole extraction.
const DefaultClientTimeout = 30 * time.Second

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client is shared by every extraction to reuse connections. Nil means a
	// client with DefaultClientTimeout.
	Client *http.Client
}

// Register registers both extractors with the registry.
func (m *Module) Register(r *registry.Registry) {
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultClientTimeout}
	}
	r.RegisterExtractor(UsersOperation, &Extractor{Client: client, Endpoint: "/users"})
	r.RegisterExtractor(SessionsOperation, &Extractor{Client: client, Endpoint: "/sessions"})
}
