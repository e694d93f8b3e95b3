// Package client contains the gateway transport of ddictl.
//
// # Overview
//
// The package provides:
//  1. A transport contract (see the Client interface) used by the dataset,
//     upload and status services: JSON calls against the REST root, raw
//     authorized requests for the tus protocol and streamed downloads.
//  2. An HTTP implementation (see HTTPClient) that takes a bearer token from
//     a session for every request, invalidates it when the gateway rejects
//     it and retries that request exactly once.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Non-2xx answers become *APIError values whose Kind is one of the sentinels
// in internal/common; network failures wrap common.ErrTransport. Every Do
// call returns the Response (status code and content) even when it fails.
//
// # Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept a
// context.Context and honor cancellation.
//
// See Also
//
//   - Interface:  Client
//   - HTTP impl:  HTTPClient
//   - DB helpers: InitDatabase, RunMigrations, OpenState
//   - Errors:     APIError, MapStatus
package client
