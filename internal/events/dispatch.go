package events

import (
	"context"
	"errors"
)

// Dispatcher fans an event out to every registered handler.
type Dispatcher struct {
	handlers []Visitor
}

func NewDispatcher(handlers ...Visitor) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch runs every handler even if one fails and joins their errors.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) error {
	var err error
	for _, h := range d.handlers {
		if hErr := e.Accept(ctx, h); hErr != nil {
			err = errors.Join(err, hErr)
		}
	}
	return err
}
