package transport

import (
	"context"
	"fmt"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// Mux routes destinations to dedicated dispatchers and everything else to a
// default one. Transaction enlistment happens here, so routed dispatchers only
// ever see operations that must go out immediately.
type Mux struct {
	def    Dispatcher
	routes map[string]Dispatcher
}

// NewMux creates a mux over the default dispatcher.
func NewMux(def Dispatcher) *Mux {
	return &Mux{def: def, routes: make(map[string]Dispatcher)}
}

// Route sends every operation for address through d.
func (m *Mux) Route(address string, d Dispatcher) {
	m.routes[address] = d
}

// Dispatch implements Dispatcher.
func (m *Mux) Dispatch(ctx context.Context, ops []domain.TransportOperation, txn *domain.TransportTransaction) error {
	now, err := Split(ops, txn)
	if err != nil {
		return err
	}

	groups := make(map[Dispatcher][]domain.TransportOperation)
	var order []Dispatcher
	for _, op := range now {
		d, ok := m.routes[op.Destination]
		if !ok {
			d = m.def
		}
		if _, seen := groups[d]; !seen {
			order = append(order, d)
		}
		groups[d] = append(groups[d], op)
	}

	for _, d := range order {
		if err := d.Dispatch(ctx, groups[d], nil); err != nil {
			return fmt.Errorf("mux dispatch: %w", err)
		}
	}
	return nil
}

// SupportsDelayedDelivery follows the default dispatcher.
func (m *Mux) SupportsDelayedDelivery() bool {
	return SupportsDelayedDelivery(m.def)
}
