/*
Package session implements per-session serialization on top of a SessionRepository.

The Manager guarantees that at most one critical section (typically an advance)
runs per session at a time. Locks are reference counted in memory and can be
backed by a DistributedLocker to coordinate replicas sharing the same store.
*/
package session
