/*
Package domain contains the core models of the Parley conversation engine.

It defines roles, flow templates and their steps, sessions (the running
instance of a template with its cast and cursor) and the append-only
transcript of messages. The package is kept free of I/O and persistence
concerns, following Hexagonal Architecture principles.

# Key Entities

  - Role: A participant persona (name plus system prompt).
  - FlowStep: One scripted turn (speaker, optional target, task, context scope, routing).
  - Template: An ordered, immutable list of steps plus a seed topic.
  - Session: The execution cursor (pointer, round, loop counters, status) and its snapshots.
  - Message: One generated utterance, attributed to a step and a round.
*/
package domain
