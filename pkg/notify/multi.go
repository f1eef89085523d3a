package notify

import (
	"context"
	"errors"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Multi notifies every wrapped notifier and joins their errors.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, ev *domain.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
