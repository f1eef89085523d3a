/*
Package dsl provides a fluent Go API for building conversation templates.

It is an alternative to YAML bundles when templates are generated at runtime
or assembled in tests. Steps are numbered in the order they are added unless
an explicit order is given.

Example usage:

	tpl, err := dsl.New("interview").
		Topic("Working remotely").
		Step("host").To(domain.TopicRef).Task("opening").
		Step("host").To("guest").Task("question").LastN(2).
		Step("guest").To("host").Task("answer").LastN(1).
		Loop(2, 3, "no more questions").
		Build()
	if err != nil {
		log.Fatal(err)
	}

	engine, _ := parley.New()
	s, _ := engine.CreateSession(ctx, parley.CreateRequest{Template: tpl, Casting: casting})
*/
package dsl
