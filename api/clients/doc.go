/*
Package clients provides a Go client for the state backend API.

StateClient covers every route under /api/v1: state listing, reads, writes
and deletes, lock acquire, release and inspection, and the config routes.
Requests go through go-retryablehttp, so transient connection failures and
5xx responses are retried with backoff.

Errors are translated back into the sentinels of the interfaces package:

  - 404 on a state or lock - interfaces.ErrNotFound
  - 423 on lock or write - *interfaces.LockConflictError with the holder
  - 400 "Lock ID mismatch" - interfaces.ErrLockIDMismatch

# Example Usage

	client := clients.NewStateClient("http://localhost:8080", logger,
		clients.WithBearerToken(token))

	info, err := client.Lock(ctx, "infra", "prod", &interfaces.LockInfo{Who: "ops"})
	if err != nil {
		return err
	}
	defer client.Unlock(ctx, "infra", "prod", info.ID)

	return client.PutState(ctx, "infra", "prod", state, info.ID)
*/
package clients
