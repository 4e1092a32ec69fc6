package subscription

import (
	"context"
	"testing"

	"copy-systemv1/internal/model"
)

type fakeSubs struct {
	rows []model.FollowerSubscription
}

func (f *fakeSubs) Followers(ctx context.Context, leaderID string) ([]model.FollowerSubscription, error) {
	var out []model.FollowerSubscription
	for _, s := range f.rows {
		if s.LeaderID == leaderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestEligible_FiltersDisabledAndPaused(t *testing.T) {
	subs := &fakeSubs{rows: []model.FollowerSubscription{
		{LeaderID: "l1", FollowerID: "active", AutoCopyEnabled: true},
		{LeaderID: "l1", FollowerID: "disabled", AutoCopyEnabled: false},
		{LeaderID: "l1", FollowerID: "paused", AutoCopyEnabled: true, Paused: true},
		{LeaderID: "l2", FollowerID: "other-leader", AutoCopyEnabled: true},
	}}
	r := NewResolver(subs)

	got, err := r.Eligible(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 eligible follower, got %d", len(got))
	}
	if got[0].FollowerID != "active" {
		t.Errorf("expected follower 'active', got %q", got[0].FollowerID)
	}
}

func TestEligible_UnknownLeaderIsEmpty(t *testing.T) {
	r := NewResolver(&fakeSubs{})

	got, err := r.Eligible(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d", len(got))
	}
}
