package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/baluhost/baluhost/pkg/types"
)

// TestCollectorUpdatesMountpointGauges tests one collection pass
func TestCollectorUpdatesMountpointGauges(t *testing.T) {
	MountpointCapacityBytes.Reset()
	MountpointUsedBytes.Reset()

	source := func(ctx context.Context) ([]*types.Mountpoint, error) {
		return []*types.Mountpoint{
			{ID: "storage", Kind: types.MountVirtual, CapacityBytes: 1000, UsedBytes: 250},
			{ID: "md0", Kind: types.MountRaidArray, CapacityBytes: 5000, UsedBytes: 0},
		}, nil
	}

	c := NewCollector(source)
	c.collect(context.Background())

	got := testutil.ToFloat64(MountpointUsedBytes.WithLabelValues("storage", string(types.MountVirtual)))
	if got != 250 {
		t.Errorf("used gauge for storage = %v, want 250", got)
	}
	got = testutil.ToFloat64(MountpointCapacityBytes.WithLabelValues("md0", string(types.MountRaidArray)))
	if got != 5000 {
		t.Errorf("capacity gauge for md0 = %v, want 5000", got)
	}
}

// TestCollectorDroppedMountpointsDisappear tests gauge reset between passes
func TestCollectorDroppedMountpointsDisappear(t *testing.T) {
	MountpointCapacityBytes.Reset()
	MountpointUsedBytes.Reset()

	mounts := []*types.Mountpoint{
		{ID: "sdc", Kind: types.MountPlainDisk, CapacityBytes: 100, UsedBytes: 10},
	}
	source := func(ctx context.Context) ([]*types.Mountpoint, error) {
		return mounts, nil
	}

	c := NewCollector(source)
	c.collect(context.Background())

	if n := testutil.CollectAndCount(MountpointUsedBytes); n != 1 {
		t.Fatalf("expected 1 used series, got %d", n)
	}

	mounts = nil
	c.collect(context.Background())

	if n := testutil.CollectAndCount(MountpointUsedBytes); n != 0 {
		t.Errorf("expected 0 used series after drop, got %d", n)
	}
}

// TestCollectorKeepsGaugesOnSourceError tests that a failing source leaves
// the previous values in place
func TestCollectorKeepsGaugesOnSourceError(t *testing.T) {
	MountpointCapacityBytes.Reset()
	MountpointUsedBytes.Reset()

	MountpointUsedBytes.WithLabelValues("storage", string(types.MountVirtual)).Set(42)

	c := NewCollector(func(ctx context.Context) ([]*types.Mountpoint, error) {
		return nil, errors.New("store closed")
	})
	c.collect(context.Background())

	got := testutil.ToFloat64(MountpointUsedBytes.WithLabelValues("storage", string(types.MountVirtual)))
	if got != 42 {
		t.Errorf("used gauge after failed pass = %v, want 42", got)
	}
}
