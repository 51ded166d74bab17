package app

import (
	"context"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
	"github.com/shlawgathon/wishlist-sub000/internal/metrics"
)

// PaymentExecutor settles a single payment.
type PaymentExecutor interface {
	Execute(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult
}

// BatchCoordinator runs an ordered list of payments one after another.
// Items are never settled concurrently: the payment agent sequences transfers
// per sender.
type BatchCoordinator struct {
	executor PaymentExecutor
}

// NewBatchCoordinator creates a batch coordinator.
func NewBatchCoordinator(executor PaymentExecutor) *BatchCoordinator {
	return &BatchCoordinator{executor: executor}
}

// ExecuteBatch attempts every request in order and reports each outcome. A
// failed item never stops the batch. Once ctx is done the remaining items are
// reported as not attempted instead of being sent to the agent.
func (b *BatchCoordinator) ExecuteBatch(ctx context.Context, reqs []domain.PaymentRequest) domain.BatchReport {
	report := domain.BatchReport{
		Results:      make([]domain.PaymentResult, 0, len(reqs)),
		TotalSettled: decimal.Zero,
	}
	skipped := 0
	for _, req := range reqs {
		var result domain.PaymentResult
		if err := ctx.Err(); err != nil {
			result = notAttempted(req, err)
			skipped++
		} else {
			result = b.executor.Execute(ctx, req)
		}
		report.Results = append(report.Results, result)
		if result.Success {
			report.SuccessCount++
			report.TotalSettled = report.TotalSettled.Add(result.Amount)
		} else {
			report.FailureCount++
		}
	}
	metrics.Payments().ObserveBatch(len(reqs))
	log.Printf("level=info component=batch items=%d successful=%d failed=%d not_attempted=%d total_settled=%s", len(reqs), report.SuccessCount, report.FailureCount, skipped, report.TotalSettled)
	return report
}

func notAttempted(req domain.PaymentRequest, err error) domain.PaymentResult {
	return domain.PaymentResult{
		ListingID: strings.TrimSpace(req.ListingID),
		Amount:    req.Amount,
		Method:    req.Method,
		Error:     domain.NewPaymentError(domain.KindTransport, "batch was cancelled before this item was attempted", err),
	}
}
