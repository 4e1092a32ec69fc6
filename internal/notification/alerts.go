package notification

import (
	"context"
	"fmt"
	"log"

	"copy-systemv1/internal/model"
)

// Alerter consumes copy execution events and forwards the noteworthy ones to
// a Notifier. Failed placements alert at CRITICAL; successful placements are
// logged only.
type Alerter struct {
	notifier Notifier
}

// NewAlerter creates an Alerter delivering through n.
func NewAlerter(n Notifier) *Alerter {
	return &Alerter{notifier: n}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (a *Alerter) Run(ctx context.Context, events <-chan model.CopyExecutedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.handle(ctx, ev)
		}
	}
}

func (a *Alerter) handle(ctx context.Context, ev model.CopyExecutedEvent) {
	if ev.Status != model.OutcomeFailed {
		return
	}
	alert := Alert{
		Level: AlertCritical,
		Title: fmt.Sprintf("Copy order failed for %s", ev.FollowerID),
		Message: fmt.Sprintf("Trade %s: %s %d %s could not be placed: %s",
			ev.LeaderTradeID, ev.Side, ev.Qty, ev.Symbol, ev.Error),
	}
	if err := a.notifier.Send(ctx, alert); err != nil {
		log.Printf("[notify] delivering failure alert: %v", err)
	}
}

// DailyLossHalted sends a WARNING when a follower's replication is halted by
// the daily loss limit.
func (a *Alerter) DailyLossHalted(ctx context.Context, followerID string) {
	alert := Alert{
		Level:   AlertWarning,
		Title:   fmt.Sprintf("Replication halted for %s", followerID),
		Message: "Daily loss limit breached; copying resumes after the next market open.",
	}
	if err := a.notifier.Send(ctx, alert); err != nil {
		log.Printf("[notify] delivering daily-loss alert: %v", err)
	}
}

// SizeReduced sends a WARNING when a replication went through at the risk
// validator's reduced size.
func (a *Alerter) SizeReduced(ctx context.Context, followerID, symbol string, from, to float64) {
	alert := Alert{
		Level: AlertWarning,
		Title: fmt.Sprintf("Copy size reduced for %s", followerID),
		Message: fmt.Sprintf("%s allocation reduced from %.2f%% to %.2f%% to stay within limits.",
			symbol, from*100, to*100),
	}
	if err := a.notifier.Send(ctx, alert); err != nil {
		log.Printf("[notify] delivering size-reduction alert: %v", err)
	}
}
