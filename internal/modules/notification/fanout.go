// README: Fan-out notifier delivering one event to every configured channel.
package notification

import (
	"context"
	"errors"
	"sync"

	"ridedispatch/internal/modules/ride"
)

type Notifier interface {
	RideTransition(ctx context.Context, e ride.Event) error
}

// Fanout delivers concurrently and joins the errors. One slow or failing
// channel never blocks the others.
type Fanout []Notifier

func (f Fanout) RideTransition(ctx context.Context, e ride.Event) error {
	errs := make([]error, len(f))
	var wg sync.WaitGroup
	for i, n := range f {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			errs[i] = n.RideTransition(ctx, e)
		}(i, n)
	}
	wg.Wait()
	return errors.Join(errs...)
}
