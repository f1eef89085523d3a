/*
Package ports defines the driven ports (interfaces) for the Parley engine.

These interfaces decouple the flow execution core from external implementations,
allowing the engine to work with various storage backends, text generators,
catalog sources and push channels.

# Key Interfaces

  - SessionRepository: Persists sessions and their transcripts; appends are atomic.
  - Generator: Produces one utterance from a prompt (LLM or scripted).
  - LoopPredicate: Evaluates a step's exit condition against the last message.
  - Catalog: Supplies roles and published templates (YAML, Loam or memory).
  - Notifier: Pushes committed changes to observers.
  - DistributedLocker: Provides distributed locking for concurrent session access.
*/
package ports
