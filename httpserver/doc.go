/*
Package httpserver serves the state backend over HTTP.

The router mounts the state, lock and config routes under /api/v1 behind the
auth middleware, and the operational routes at the root:

  - GET /livez - liveness check
  - GET /readyz - readiness check, 503 while draining
  - GET /drain - mark the server as not ready
  - GET /undrain - mark the server as ready
  - /debug/pprof - profiling, when enabled

Store errors map onto status codes as follows:

  - interfaces.ErrNotFound - 404
  - interfaces.ErrLockConflict - 423 with the current lock record
  - interfaces.ErrLockIDMismatch - 400
  - interfaces.ErrInvalidKey, interfaces.ErrInvalidConfig - 400
  - anything else - 500

Lock routes answer with JSON bodies; state routes answer with plain text
messages, as HTTP backend clients only inspect their status codes.

# Example Usage

	handler := httpserver.NewHandler(
		statestore.New(blobs, meta, logger),
		lock.NewCoordinator(meta, logger),
		false,
		logger,
	)

	server, err := httpserver.New(cfg, handler, auth.New(token, users, logger))
	if err != nil {
		return err
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
