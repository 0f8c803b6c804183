package reconcile

import "context"

// Engine resolves events and applies them.
type Engine struct {
	matcher      *Matcher
	materializer *Materializer
}

func NewEngine(matcher *Matcher, materializer *Materializer) *Engine {
	return &Engine{matcher: matcher, materializer: materializer}
}

// Reconcile resolves ev and materializes its order. Calling it again for the
// same payment returns the same order with Duplicate set.
func (e *Engine) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	res, err := e.matcher.Resolve(ctx, ev)
	if err != nil {
		return Outcome{}, err
	}
	return e.materializer.Apply(ctx, res, Payment{ID: ev.PaymentID, Amount: ev.Amount, Method: ev.Provider})
}
