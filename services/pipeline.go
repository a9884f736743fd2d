package services

import (
	"context"
	"log"
)

// pipelineStep pairs a forward action with the compensating action that
// undoes its durable effect. Modeling compensation explicitly keeps it unit
// testable instead of living inside catch blocks at each call site.
type pipelineStep struct {
	name       string
	forward    func(ctx context.Context) error
	compensate func(ctx context.Context) error
}

// runPipeline executes steps in order. On a forward failure it runs the
// compensations of every completed step in reverse and returns the original
// error. Compensation failures are logged, never returned — the forward
// error is the one the caller must see.
func runPipeline(ctx context.Context, steps []pipelineStep) error {
	var completed []pipelineStep
	for _, step := range steps {
		if err := step.forward(ctx); err != nil {
			for i := len(completed) - 1; i >= 0; i-- {
				if completed[i].compensate == nil {
					continue
				}
				if cerr := completed[i].compensate(ctx); cerr != nil {
					log.Printf("❌ [pipeline] compensation %q failed: %v", completed[i].name, cerr)
				} else {
					log.Printf("[pipeline] compensated %q after %q failed", completed[i].name, step.name)
				}
			}
			return err
		}
		completed = append(completed, step)
	}
	return nil
}
