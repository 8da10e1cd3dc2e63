// Package cache stores successful call results so identical requests are not
// sent twice.
//
// Cache is a byte-oriented store with a memory and a Redis implementation.
// Store layers a Codec and a TTL Policy on top to hold typed values. Memo
// deduplicates work inside one run: concurrent callers with the same key share
// a single invocation, and later callers read the resolved value. Keys are
// derived from requests by the SHA-256 DefaultKeyer over canonical JSON.
package cache
