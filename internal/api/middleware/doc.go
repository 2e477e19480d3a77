/*
Package middleware provides the HTTP middleware shared by the proxy listener.

# Middleware Components

## Request ID (requestid.go)

RequestIDMiddleware generates a UUID for each request and adds it to:
  - The request context (accessible via GetRequestID)
  - The X-Request-ID response header

## Logging (logging.go)

LoggingMiddleware provides structured request logging using slog:
  - Logs request start (method, path, remote_addr)
  - Logs request completion (status, duration)
  - Supports request-scoped fields via AddLogField/AddError, which the proxy
    handler uses to report cache=hit|miss, provider and attempts

# Middleware Chain Order

 1. RequestIDMiddleware
 2. LoggingMiddleware
 3. Recoverer (chi)
 4. OTel instrumentation
*/
package middleware
