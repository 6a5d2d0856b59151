package main

import (
	"context"
	"testing"

	"github.com/usit-gd/nivlheim/core"
	"github.com/usit-gd/nivlheim/log"
)

type fakeIPRangeSeeder struct {
	ranges []core.IPRange
	added  []string
}

func (f *fakeIPRangeSeeder) IPRangeList(ctx context.Context) ([]core.IPRange, error) {
	return f.ranges, nil
}

func (f *fakeIPRangeSeeder) IPRangeAdd(ctx context.Context, cidr string) error {
	f.added = append(f.added, cidr)
	f.ranges = append(f.ranges, core.IPRange{IPRange: cidr})
	return nil
}

func TestSeedAutoApproveRangesAddsMissingRanges(t *testing.T) {
	store := &fakeIPRangeSeeder{ranges: []core.IPRange{{IPRange: "10.0.0.0/8"}}}

	err := seedAutoApproveRanges(context.Background(), store, []string{"10.0.0.0/8", "192.168.0.0/16"}, log.Get())
	if err != nil {
		t.Fatalf("seedAutoApproveRanges: %s", err)
	}
	if len(store.added) != 1 || store.added[0] != "192.168.0.0/16" {
		t.Fatalf("added = %v, want only the missing range", store.added)
	}
}

func TestSeedAutoApproveRangesNoopWhenNoneConfigured(t *testing.T) {
	store := &fakeIPRangeSeeder{ranges: []core.IPRange{{IPRange: "10.0.0.0/8"}}}

	if err := seedAutoApproveRanges(context.Background(), store, nil, log.Get()); err != nil {
		t.Fatalf("seedAutoApproveRanges: %s", err)
	}
	if len(store.added) != 0 {
		t.Fatalf("expected no adds with no configured ranges, got %v", store.added)
	}
}
