package api

// Error mapping is done inline in handlers.
// Auth errors mapped in auth package interceptor.
// Malformed request structs map to INVALID_ARGUMENT.
// Sample store failures map to UNAVAILABLE.
// Batches over the configured limit map to INVALID_ARGUMENT.
