package events

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/accountid"
	"github.com/speedrun-hq/fundgraph/db"
	"github.com/speedrun-hq/fundgraph/models"
)

// Request is one event handed to a Handler.
type Request struct {
	Payload *models.EventPayload
	Args    models.EventArgs
	Logger  zerolog.Logger
}

// Outcome is what a successful Handle reports back to the router.
type Outcome struct {
	// Accounts whose derived state may have changed.
	Accounts []accountid.AccountID

	// Pending, when set, commits the transaction but asks for the job to be
	// retried with this reason.
	Pending error

	// Rejected, when set, commits the transaction and completes the job as rejected.
	Rejected error
}

// Handler applies one kind of event to the store.
type Handler interface {
	Signatures() []string
	Handle(ctx context.Context, tx db.Tx, req *Request) (Outcome, error)
}

// Registry maps event signatures to handlers.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds h under each of its signatures. It panics on a duplicate.
func (r *Registry) Register(h Handler) {
	for _, sig := range h.Signatures() {
		if _, ok := r.handlers[sig]; ok {
			panic(fmt.Sprintf("events: duplicate handler for %s", sig))
		}
		r.handlers[sig] = h
	}
}

func (r *Registry) Lookup(signature string) (Handler, bool) {
	h, ok := r.handlers[signature]
	return h, ok
}

func (r *Registry) Has(signature string) bool {
	_, ok := r.handlers[signature]
	return ok
}

// Signatures returns the registered signatures in sorted order.
func (r *Registry) Signatures() []string {
	sigs := make([]string, 0, len(r.handlers))
	for sig := range r.handlers {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}
