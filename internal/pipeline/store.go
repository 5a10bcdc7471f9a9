// Package pipeline implements the Event Pipeline Engine (§4.5): the
// Root/Pipeline/Extractor state machines that drive one event from
// verification through extraction, transformation, and destination
// delivery, with heartbeats, retries, and an append-only transaction
// ledger.
package pipeline

import (
	"context"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/transaction"
)

// ContextStore persists and reloads the three context kinds by their
// authoritative latest-by-timestamp row (§3 "at most one live context row
// ... is authoritative").
type ContextStore interface {
	LatestRoot(ctx context.Context, eventKey string) (coreContext.RootContext, bool, error)
	SaveRoot(ctx context.Context, rc coreContext.RootContext) error

	LatestPipeline(ctx context.Context, eventKey, pipelineKey string) (coreContext.PipelineContext, bool, error)
	SavePipeline(ctx context.Context, pc coreContext.PipelineContext) error

	LatestExtractor(ctx context.Context, eventKey, pipelineKey, extractorKey string) (coreContext.ExtractorContext, bool, error)
	SaveExtractor(ctx context.Context, ec coreContext.ExtractorContext) error
}

// TransactionStore appends to the write-once audit ledger (§3 Transaction).
type TransactionStore interface {
	Append(ctx context.Context, tx transaction.Transaction) error
}
