/*
Package parley is a flow execution engine for scripted, multi-participant LLM conversations.

A conversation is described by a Template: an ordered list of steps, each naming who speaks,
whom they address, what kind of contribution is expected and how much of the transcript they
see. Steps may jump backwards to form bounded loops that end after a maximum number of
iterations or when an exit condition holds on the produced message.

A Session binds a template to concrete roles (the casting) and a topic. Every call to Advance
executes exactly one step: it resolves the visible context, asks the generator for the
speaker's message, appends it to the transcript and moves the step pointer, atomically and
serialized per session. Sessions can be paused, resumed and terminated at any time.

# Architecture

The engine follows a hexagonal layout. The core (internal/runtime) only talks to ports:

  - ports.SessionRepository stores sessions and transcripts (memory, file, redis).
  - ports.Generator produces text (an OpenAI compatible chat model via eino, or a scripted fake).
  - ports.Catalog supplies roles and templates (YAML bundles or a Markdown library via loam).
  - ports.LoopPredicate evaluates exit conditions (expr-lang expressions, phrase match or an LLM judge).
  - ports.Notifier receives step and status events (SSE/WebSocket fan-out, Redis pub/sub).

# Usage

	eng, err := parley.New(
		parley.WithLibrary("./library"),
		parley.WithGenerator(myGenerator),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	s, err := eng.CreateSession(ctx, parley.CreateRequest{
		TemplateID: "debate",
		Casting:    map[string]string{"moderator": "moderator", "pro": "proponent", "con": "opponent"},
	})
	if err != nil {
		log.Fatal(err)
	}

	// One step at a time...
	res, err := eng.Advance(ctx, s.ID)

	// ...or until the session stops.
	final, err := eng.Run(ctx, s.ID, nil)

The same engine is exposed over HTTP (pkg/adapters/http), MCP (pkg/adapters/mcp) and the
parley command line.
*/
package parley
