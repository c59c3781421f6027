// Package cache implements the cache stores a test installation keeps
// next to its database: a Redis keyspace and the on-disk cache
// directories below the dataroot. Each store can be purged and have its
// layout rebuilt; Multi fans both operations out over several stores.
package cache
