// Package resilience retries operations that fail for transient reasons:
// connecting to a database that is still starting, or posting to a
// mailbox on a briefly unreachable Redis.
//
//	err := resilience.Do(ctx, resilience.Policy{
//	    Attempts: 3,
//	    Backoff:  resilience.Linear(time.Second),
//	    RetryIf:  database.IsConnectionError,
//	}, func(attempt int) error {
//	    return connect()
//	})
//
// Nothing is retried after the context ends.
package resilience
