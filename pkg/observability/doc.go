/*
Package observability provides lifecycle hooks for monitoring the Parley engine.

Metrics records step, status and failure counters in Prometheus; LoggingHooks
writes the same events to a structured logger. Combine merges several hook
sets so both can be installed at once.
*/
package observability
