package ports

import "net/http"

// HTTPClient is the subset of *http.Client used by the HTTP report
// transport and the manager resolver.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// IdleCloser lets Close drop pooled keep-alive connections of clients
// that have them, *http.Client included.
type IdleCloser interface {
	CloseIdleConnections()
}
