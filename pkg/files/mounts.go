package files

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/types"
)

// arrayMountBase is where assembled arrays are expected to be mounted,
// as /<base>/<array name>.
const arrayMountBase = "/mnt"

// usedCacheTTL bounds how often the usage walk runs per mountpoint.
const usedCacheTTL = 30 * time.Second

type usedEntry struct {
	bytes int64
	at    time.Time
}

// Mountpoints returns the derived mountpoint list: RAID arrays from the
// controller, configured plain disks, and the two virtual roots. UsedBytes
// comes from a cached recursive walk.
func (s *Service) Mountpoints(ctx context.Context) ([]*types.Mountpoint, error) {
	mounts, err := s.derived(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mounts {
		m.UsedBytes = s.usedBytes(m.ID, m.RootPath)
	}
	return mounts, nil
}

// mountpoint resolves one mountpoint by ID.
func (s *Service) mountpoint(ctx context.Context, id string) (*types.Mountpoint, error) {
	mounts, err := s.derived(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mounts {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, errdefs.Errorf(errdefs.KindNotFound, "files.mountpoint: no mountpoint %q", id)
}

func (s *Service) derived(ctx context.Context) ([]*types.Mountpoint, error) {
	mounts := []*types.Mountpoint{
		{ID: "storage", Label: "Storage", RootPath: s.cfg.StorageRootPath, Kind: types.MountVirtual},
		{ID: "temp", Label: "Temp", RootPath: s.cfg.TempPath, Kind: types.MountVirtual},
	}

	for _, disk := range s.cfg.Raid.PlainDisks {
		mounts = append(mounts, &types.Mountpoint{
			ID:       disk.Label,
			Label:    disk.Label,
			RootPath: disk.RootPath,
			Kind:     types.MountPlainDisk,
			Readonly: disk.Readonly,
		})
	}

	if s.controller != nil {
		arrays, err := s.controller.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range arrays {
			mounts = append(mounts, &types.Mountpoint{
				ID:            a.Name,
				Label:         a.Name,
				RootPath:      filepath.Join(arrayMountBase, a.Name),
				Kind:          types.MountRaidArray,
				CapacityBytes: a.SizeBytes,
			})
		}
	}
	return mounts, nil
}

// usedBytes walks the mountpoint at most once per cache window. A missing
// root counts as empty.
func (s *Service) usedBytes(id, root string) int64 {
	now := time.Now()
	s.mu.Lock()
	if e, ok := s.usedCache[id]; ok && now.Sub(e.at) < usedCacheTTL {
		s.mu.Unlock()
		return e.bytes
	}
	s.mu.Unlock()

	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})

	s.mu.Lock()
	s.usedCache[id] = usedEntry{bytes: total, at: now}
	s.mu.Unlock()
	return total
}

// RunReconciler keeps the mountpoints table in step with the derived
// list, re-syncing whenever the RAID state changes. Blocks until ctx
// ends.
func (s *Service) RunReconciler(ctx context.Context) {
	if err := s.Reconcile(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial mountpoint sync failed")
	}
	if s.broker == nil {
		<-ctx.Done()
		return
	}

	sub := s.broker.Subscribe(events.TopicRaidState, 16)
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if err := s.Reconcile(ctx); err != nil {
				s.logger.Error().Err(err).Msg("mountpoint sync failed")
			}
		}
	}
}

// Reconcile syncs the mountpoints table with the derived list. Removing a
// mountpoint row cascades its file metadata.
func (s *Service) Reconcile(ctx context.Context) error {
	derived, err := s.derived(ctx)
	if err != nil {
		return err
	}

	existing, err := s.store.ListMountpoints(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.ID] = true
	}

	current := make(map[string]bool, len(derived))
	for _, m := range derived {
		current[m.ID] = true
		if err := s.store.UpsertMountpoint(ctx, m); err != nil {
			return err
		}
		if !known[m.ID] {
			s.publishMount(events.EventMountAdded, m.ID)
			s.logger.Info().Str("mountpoint", m.ID).Str("kind", string(m.Kind)).Msg("mountpoint added")
		}
	}

	for _, m := range existing {
		if current[m.ID] {
			continue
		}
		if err := s.store.DeleteMountpoint(ctx, m.ID); err != nil {
			return err
		}
		s.publishMount(events.EventMountRemoved, m.ID)
		s.logger.Info().Str("mountpoint", m.ID).Msg("mountpoint removed")
	}
	return nil
}

func (s *Service) publishMount(evType events.EventType, id string) {
	if s.broker != nil {
		s.broker.Publish(events.TopicMountpoint, evType, map[string]string{"mountpoint": id})
	}
}
