// Package governance coordinates runtime safety controls for calls to
// upstream governance APIs: a single-slot request gate with minimum
// inter-request spacing and bounded exponential backoff, plus retry
// classification helpers shared by fetchers and the notifier.
//
// The upstream services watched here (public GraphQL hubs, chain RPC
// endpoints) are fragile and do not tolerate bursts, so the gate permits
// exactly one in-flight request per source.
package governance
