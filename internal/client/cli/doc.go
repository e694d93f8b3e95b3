// Package cli provides the ddictl command-line client.
//
// It wires configuration, the local checkpoint store and the gateway services
// into a cobra command tree. Commands are thin: they parse flags, call one
// service operation and render the structured result as a table, JSON or
// YAML.
//
// Command groups:
//   - login: verify credentials against the identity provider
//   - dataset: create, list, delete, files, path, download
//   - upload: new, rewrite, resume, list, discard
//   - status: query (and optionally wait for) ingestion tasks
//
// Execute runs the tree and maps the returned error onto a process exit code,
// see ExitCode.
package cli
