package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/caregrid/accessgate/pkg/observability"
)

// Emit publishes change and records the outcome. A failed publish is logged and counted
// but never fails the mutation that triggered it.
func Emit(ctx context.Context, publisher Publisher, metrics *observability.Metrics, change Change) {
	if publisher == nil {
		return
	}
	err := publisher.Publish(ctx, change)
	metrics.RecordNotification(err)
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithFields(logrus.Fields{
			"kind":          change.Kind,
			"change_tenant": change.TenantID,
		}).Warn("Failed to publish authorization change")
	}
}
