package app

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/shlawgathon/wishlist-sub000/internal/domain"
)

type orderRecordingExecutor struct {
	PaymentExecutor
	seen []string
}

func (e *orderRecordingExecutor) Execute(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult {
	e.seen = append(e.seen, req.ListingID)
	return e.PaymentExecutor.Execute(ctx, req)
}

func TestExecuteBatch_PartialFailureAttemptsEveryItem(t *testing.T) {
	ledgerStore := seedLedger(t, addressListing("listing-1"), addressListing("listing-2"), addressListing("listing-3"))
	agent := &fakeAgent{replies: []toolReply{
		success("0x01"),
		{err: domain.TransportError(http.StatusBadGateway, "upstream down")},
		success("0x03"),
	}}
	executor, _ := newTestExecutor(ledgerStore, agent, nil)
	recording := &orderRecordingExecutor{PaymentExecutor: executor}

	reqs := []domain.PaymentRequest{
		payment("listing-1", 30),
		payment("listing-2", 40),
		payment("listing-3", 50),
	}
	report := NewBatchCoordinator(recording).ExecuteBatch(context.Background(), reqs)

	if len(report.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report.Results))
	}
	if report.SuccessCount != 2 || report.FailureCount != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", report.SuccessCount, report.FailureCount)
	}
	if !report.Results[0].Success || report.Results[1].Success || !report.Results[2].Success {
		t.Fatalf("unexpected per-item outcomes %+v", report.Results)
	}
	if report.Results[1].Error.Kind != domain.KindTransport || report.Results[1].Error.Status != http.StatusBadGateway {
		t.Fatalf("expected TransportError 502 on item 2, got %+v", report.Results[1].Error)
	}
	if !report.TotalSettled.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected total settled 80, got %s", report.TotalSettled)
	}
	for i, id := range []string{"listing-1", "listing-2", "listing-3"} {
		if recording.seen[i] != id || report.Results[i].ListingID != id {
			t.Fatalf("expected input order preserved at %d, got %v", i, recording.seen)
		}
	}
	ids := report.TransactionIDs()
	if len(ids) != 2 || ids[0] != "0x01" || ids[1] != "0x03" {
		t.Fatalf("unexpected transaction ids %v", ids)
	}

	failed, _ := ledgerStore.GetListing(context.Background(), "listing-2")
	if !failed.AmountRaised.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("failed item must not be credited, got %s", failed.AmountRaised)
	}
}

func TestExecuteBatch_TotalMatchesSuccessfulAmounts(t *testing.T) {
	ledgerStore := seedLedger(t, addressListing("listing-1"))
	executor, _ := newTestExecutor(ledgerStore, &fakeAgent{}, nil)

	reqs := []domain.PaymentRequest{
		payment("listing-1", 25),
		payment("missing", 30),
		{ListingID: "listing-1", Amount: decimal.RequireFromString("26.5"), SenderCredential: "buyer-token"},
	}
	report := NewBatchCoordinator(executor).ExecuteBatch(context.Background(), reqs)

	sum := decimal.Zero
	for _, r := range report.Results {
		if r.Success {
			sum = sum.Add(r.Amount)
			if r.TransactionID == "" {
				t.Fatalf("successful result without transaction id: %+v", r)
			}
		}
	}
	if !sum.Equal(report.TotalSettled) || !report.TotalSettled.Equal(decimal.RequireFromString("51.5")) {
		t.Fatalf("expected total 51.5 matching successes, got %s (sum %s)", report.TotalSettled, sum)
	}
	if report.SuccessCount+report.FailureCount != len(reqs) {
		t.Fatalf("every item must be counted once, got %d+%d", report.SuccessCount, report.FailureCount)
	}
}

type cancelAfterFirstExecutor struct {
	PaymentExecutor
	cancel context.CancelFunc
	seen   int
}

func (e *cancelAfterFirstExecutor) Execute(ctx context.Context, req domain.PaymentRequest) domain.PaymentResult {
	e.seen++
	result := e.PaymentExecutor.Execute(ctx, req)
	e.cancel()
	return result
}

func TestExecuteBatch_CancelledBatchStopsAttempting(t *testing.T) {
	ledgerStore := seedLedger(t, addressListing("listing-1"), addressListing("listing-2"))
	agent := &fakeAgent{}
	executor, _ := newTestExecutor(ledgerStore, agent, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := &cancelAfterFirstExecutor{PaymentExecutor: executor, cancel: cancel}

	report := NewBatchCoordinator(cancelling).ExecuteBatch(ctx, []domain.PaymentRequest{
		payment("listing-1", 30),
		payment("listing-2", 30),
	})

	if cancelling.seen != 1 || len(agent.calls) != 1 {
		t.Fatalf("expected only the first item attempted, got %d executions and %d tool calls", cancelling.seen, len(agent.calls))
	}
	if len(report.Results) != 2 || report.SuccessCount != 1 || report.FailureCount != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	skipped := report.Results[1]
	if skipped.Success || skipped.ListingID != "listing-2" || skipped.Error == nil || skipped.Error.Kind != domain.KindTransport {
		t.Fatalf("expected listing-2 reported as not attempted, got %+v", skipped)
	}
	untouched, _ := ledgerStore.GetListing(context.Background(), "listing-2")
	if !untouched.AmountRaised.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("skipped item must not be credited, got %s", untouched.AmountRaised)
	}
}

func TestExecuteBatch_Empty(t *testing.T) {
	report := NewBatchCoordinator(&orderRecordingExecutor{}).ExecuteBatch(context.Background(), nil)
	if len(report.Results) != 0 || !report.TotalSettled.IsZero() {
		t.Fatalf("unexpected report %+v", report)
	}
}
