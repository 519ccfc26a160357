// Package ports defines the interfaces (ports) that connect the delivery
// engine to infrastructure adapters.
//
// # Port Interfaces
//
//   - [Resolver]: Looks up DataProxy addresses for a set of group ids
//   - [Transport] and [Conn]: Open connections and move packets over them
//   - [BatchEncoder]: Serializes a batch before compression
//   - [Metrics]: Records delivery engine measurements
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with TCP,
// HTTP, files, Prometheus and so on.
package ports
