package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/pkg/domain"
)

// RunOptions selects the session a run drives and how it is printed.
type RunOptions struct {
	// SessionID resumes an existing session when TemplateID is empty.
	SessionID  string
	TemplateID string
	Casting    map[string]string
	Topic      string

	// Pretty renders the final transcript with glamour instead of raw markdown.
	Pretty bool
	Width  int
	// Quiet suppresses the per-step event lines.
	Quiet bool
}

// RunSession creates (or resumes) a session and drives it until it stops,
// printing one line per engine event and the transcript at the end.
func RunSession(ctx context.Context, st *Stack, opts RunOptions, out io.Writer, logger *slog.Logger) (*domain.Session, error) {
	engine := st.Engine

	id := opts.SessionID
	if opts.TemplateID != "" {
		s, err := engine.CreateSession(ctx, parley.CreateRequest{
			ID:         opts.SessionID,
			TemplateID: opts.TemplateID,
			Casting:    opts.Casting,
			Topic:      opts.Topic,
		})
		if err != nil {
			return nil, err
		}
		id = s.ID
		logger.Info("session created", logging.SessionID(id), logging.TemplateID(opts.TemplateID))
	} else if id == "" {
		return nil, fmt.Errorf("a template or a session id is required")
	}

	events, unsubscribe := st.Streams.Subscribe(id)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			if !opts.Quiet {
				fmt.Fprintln(out, tui.EventLine(ev))
			}
		}
	}()

	final, runErr := engine.Run(ctx, id, nil)
	unsubscribe()
	<-printed
	if runErr != nil {
		return nil, runErr
	}

	msgs, err := engine.Transcript(ctx, id)
	if err != nil {
		return final, err
	}
	doc := tui.Markdown(final, msgs)
	if opts.Pretty {
		rendered, err := tui.NewRenderer(opts.Width)(doc)
		if err == nil {
			doc = rendered
		}
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, doc)

	logger.Info("session stopped", logging.SessionID(id), logging.Status(final.Status), logging.Round(final.Round))
	return final, nil
}
