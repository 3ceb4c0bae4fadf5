// Short-lived cache for values that are expensive to load from the database, such as per-content-type rule configs and reporter leaderboards.
//
// Values are stored as strings (JSON for structured data) under a (name, key) pair, with a fixed TTL and explicit purging on writes. Includes an interface and implementations using redis and in-process memory.
package cachestore
