// Package services defines shared utilities consumed by the pipeline stages
// and external collaborator adapters.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, content IDs, platforms, stage names,
//     outbox event IDs, and correlation identifiers for logging.
//   - The closed error Kind enumeration (transient, rate_limited, validation,
//     advisory, permanent, auth, cancelled, ...) plus the Wrap helper that tags
//     failures so the retry policy can switch on the kind instead of on
//     concrete error types.
//   - HTTP-status heuristics for adapters that hand back unclassified errors.
//
// Use these helpers when wiring new stage or adapter logic so operational
// behaviour (error handling, observability, retries) stays uniform across the
// pipeline.
package services
