// Package dedupe provides a TTL cache for suppressing replayed request ids,
// so client retries over unstable connections run a method at most once.
package dedupe
