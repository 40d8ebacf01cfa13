// Package preflight gates platform posts against per-platform publishing
// rules and reports whether the daemon's own dependencies are ready.
//
// Rule validation is exhaustive: Validate collects every violation rather
// than stopping at the first, and a post is publishable when none of them
// is blocking. Rules come from a YAML file or the embedded defaults; the
// Loader refreshes them on a TTL and keeps the last good set when a reload
// fails.
//
// Readiness checks (RunAll) cover the data directory, the database, the
// redis limiter backend, and the rule source.
package preflight
