/*
Package connection decides which physical database connection satisfies a
request, bounds concurrent connection usage under backpressure, and provides
transactional scopes with validated isolation guarantees across engines with
very different concurrency models.

The Manager owns one connection strategy (chosen from the engine's topology),
a pair of pool governors bounding reader and writer connections, and an
isolation resolver for the detected engine. Callers acquire connections
directly, or begin a transaction which pins one connection for its whole
life.
*/
package connection
