// Package keycache validates API keys against the registry behind a TTL cache.
//
// Entries live in per-shard LRU maps selected by an xxhash of the key, so unrelated keys
// never contend on one lock and no lock is held across I/O. Misses go through a per-shard
// singleflight group: the first caller for a key leads the registry lookup and every
// concurrent caller for the same key waits on that one result. The leader's lookup runs
// on a context detached from its caller, so a client disconnect cannot cancel a lookup
// other requests are waiting on; each waiter may still stop waiting on its own context.
//
// Expiry is lazy. An expired entry stays in place until it is refreshed or evicted, which
// lets FailSoft fall back to the last known verdict when the registry is unreachable.
package keycache
