package position_sync

import (
	"context"
	"fmt"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

// EventPublisher forwards every published snapshot to sink as a
// SnapshotEvent summary.
func EventPublisher(sink outbound.EventSink) outbound.SnapshotPublisher {
	return sinkPublisher{sink: sink}
}

type sinkPublisher struct {
	sink outbound.EventSink
}

func (p sinkPublisher) PublishSnapshot(ctx context.Context, snapshot *entity.AccountSnapshot) error {
	if err := p.sink.Publish(ctx, outbound.NewSnapshotEvent(snapshot)); err != nil {
		return fmt.Errorf("failed to publish snapshot event: %w", err)
	}
	return nil
}
