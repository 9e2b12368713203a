// Package fetch contains the upstream clients that turn governance source
// APIs into watch.Entity batches. Each fetcher serves one source family and
// reports rate limiting and invalid scopes through the sentinel errors in
// internal/governance, so the monitor loop can back off or raise the admin
// alert without knowing the transport.
package fetch
