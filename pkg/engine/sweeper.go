package engine

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/log"
	"github.com/tideflow-io/tideflow/pkg/models"
)

// ProcessScheduledTransitions scans waiting instances for expired delay nodes
// and resumes each through its default port. It returns the number of nodes
// resumed. One instance failing to resume does not stop the sweep.
func (e *Engine) ProcessScheduledTransitions(ctx context.Context) (int, error) {
	waiting, err := e.persistence.Instances().ListByStatus(ctx, models.InstanceStatusWaiting)
	if err != nil {
		return 0, err
	}

	now := e.now()
	resumed := 0

	for _, instance := range waiting {
		logger := log.WithInstance(e.logger, instance.ID)

		for _, nodeID := range append([]string(nil), instance.ActiveNodes...) {
			wakeAt, ok := instance.DelayWake(nodeID)
			if !ok || wakeAt.After(now) {
				continue
			}

			if _, err := e.ResumeWorkflow(ctx, instance.ID, nodeID, models.PortDefault, nil); err != nil {
				logger.ErrorContext(ctx, "Scheduled resume failed",
					"node_id", nodeID, "error", err)

				continue
			}

			resumed++
		}
	}

	return resumed, nil
}
