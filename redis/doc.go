// Package redis provides a go-redis client wrapper used when cooperating
// harness processes share state through Redis instead of the dataroot: the
// dirty-table mailbox and the cache store purge.
package redis
