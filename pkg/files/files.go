package files

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baluhost/baluhost/pkg/config"
	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/log"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/raid"
	"github.com/baluhost/baluhost/pkg/store"
	"github.com/baluhost/baluhost/pkg/types"
)

// Service is the sandboxed file layer. The controller supplies RAID-array
// mountpoints and may be nil when no array backend exists.
type Service struct {
	cfg        *config.Config
	store      store.Store
	controller raid.Controller
	broker     *events.Broker
	logger     zerolog.Logger

	mu        sync.Mutex
	usedCache map[string]usedEntry
}

// New builds the file service.
func New(cfg *config.Config, st store.Store, controller raid.Controller, broker *events.Broker) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		controller: controller,
		broker:     broker,
		logger:     log.WithComponent("files"),
		usedCache:  make(map[string]usedEntry),
	}
}

// List returns the entries directly under dir, tracked ownership merged
// in where it exists.
func (s *Service) List(ctx context.Context, mountID, dir string) ([]*types.FileMetadata, error) {
	const op = "files.List"

	mount, err := s.mountpoint(ctx, mountID)
	if err != nil {
		return nil, err
	}
	abs, err := resolveWithin(mount.RootPath, dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Errorf(errdefs.KindNotFound, "%s: %s", op, dir)
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	tracked, err := s.store.ListDirMetadata(ctx, mountID, metaKey(dir))
	if err != nil {
		return nil, err
	}
	owners := make(map[string]*types.FileMetadata, len(tracked))
	for _, t := range tracked {
		owners[t.Path] = t
	}

	out := make([]*types.FileMetadata, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		key := metaKey(path.Join(dir, e.Name()))
		meta := &types.FileMetadata{
			MountpointID: mountID,
			Path:         key,
			SizeBytes:    info.Size(),
			IsDirectory:  e.IsDir(),
			ModifiedAt:   info.ModTime(),
		}
		if e.IsDir() {
			meta.SizeBytes = 0
		}
		if t, ok := owners[key]; ok {
			meta.ID = t.ID
			meta.OwnerID = t.OwnerID
			meta.CreatedAt = t.CreatedAt
		}
		out = append(out, meta)
	}
	return out, nil
}

// Stat returns one entry's metadata, preferring the tracked row and
// falling back to the filesystem.
func (s *Service) Stat(ctx context.Context, mountID, rel string) (*types.FileMetadata, error) {
	const op = "files.Stat"

	mount, err := s.mountpoint(ctx, mountID)
	if err != nil {
		return nil, err
	}
	abs, err := resolveWithin(mount.RootPath, rel)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Errorf(errdefs.KindNotFound, "%s: %s", op, rel)
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	meta := &types.FileMetadata{
		MountpointID: mountID,
		Path:         metaKey(rel),
		SizeBytes:    info.Size(),
		IsDirectory:  info.IsDir(),
		ModifiedAt:   info.ModTime(),
	}
	if info.IsDir() {
		meta.SizeBytes = 0
	}
	if t, terr := s.store.GetFileMetadata(ctx, mountID, meta.Path); terr == nil {
		meta.ID = t.ID
		meta.OwnerID = t.OwnerID
		meta.CreatedAt = t.CreatedAt
	}
	return meta, nil
}

// Write stores size bytes from r at rel, owned by userID. Admission runs
// against the quota before any byte lands; the metadata row and the quota
// counter settle in one transaction afterwards, where the limit is checked
// once more so racing writes cannot overshoot it.
func (s *Service) Write(ctx context.Context, userID int64, mountID, rel string, r io.Reader, size int64) (*types.FileMetadata, error) {
	const op = "files.Write"

	if size < 0 {
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: negative size %d", op, size)
	}
	mount, err := s.writableMountpoint(ctx, op, mountID)
	if err != nil {
		return nil, err
	}
	abs, err := resolveWithin(mount.RootPath, rel)
	if err != nil {
		return nil, err
	}

	key := metaKey(rel)
	if key == "" {
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: cannot write the mountpoint root", op)
	}

	// Overwrites are charged for growth only.
	var oldSize int64
	existing, err := s.store.GetFileMetadata(ctx, mountID, key)
	switch {
	case err == nil:
		if existing.IsDirectory {
			return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: %s is a directory", op, rel)
		}
		oldSize = existing.SizeBytes
	case !errdefs.IsKind(err, errdefs.KindNotFound):
		return nil, err
	}
	delta := size - oldSize
	if err := s.admit(ctx, userID, delta); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = errdefs.Errorf(errdefs.KindInvalidArg, "%s: got %d bytes, declared %d", op, n, size)
	}
	if err != nil {
		os.Remove(abs)
		if errdefs.KindOf(err) == errdefs.KindInvalidArg {
			return nil, err
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	now := time.Now().UTC()
	meta := &types.FileMetadata{
		MountpointID: mountID,
		Path:         key,
		OwnerID:      userID,
		SizeBytes:    size,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if existing != nil {
		meta.OwnerID = existing.OwnerID
		meta.CreatedAt = existing.CreatedAt
	}
	if err := s.store.UpsertFileWithQuota(ctx, meta, delta); err != nil {
		if errdefs.IsKind(err, errdefs.KindQuotaExceeded) {
			// Lost a race with another write by the same user: admission
			// passed but the transactional charge did not. A fresh file is
			// taken back off disk; an overwrite keeps its new bytes.
			metrics.QuotaRejections.Inc()
			if existing == nil {
				os.Remove(abs)
			}
		}
		return nil, err
	}
	return meta, nil
}

// Read opens a file for download.
func (s *Service) Read(ctx context.Context, mountID, rel string) (io.ReadCloser, error) {
	const op = "files.Read"

	mount, err := s.mountpoint(ctx, mountID)
	if err != nil {
		return nil, err
	}
	abs, err := resolveWithin(mount.RootPath, rel)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.Errorf(errdefs.KindNotFound, "%s: %s", op, rel)
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if info.IsDir() {
		f.Close()
		return nil, errdefs.Errorf(errdefs.KindInvalidArg, "%s: %s is a directory", op, rel)
	}
	return f, nil
}

// Mkdir creates a directory and tracks it. Parents must already exist.
func (s *Service) Mkdir(ctx context.Context, userID int64, mountID, rel string) (*types.FileMetadata, error) {
	const op = "files.Mkdir"

	mount, err := s.writableMountpoint(ctx, op, mountID)
	if err != nil {
		return nil, err
	}
	abs, err := resolveWithin(mount.RootPath, rel)
	if err != nil {
		return nil, err
	}

	if err := os.Mkdir(abs, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, errdefs.Errorf(errdefs.KindUniqueViolation, "%s: %s exists", op, rel)
		}
		if os.IsNotExist(err) {
			return nil, errdefs.Errorf(errdefs.KindNotFound, "%s: parent of %s missing", op, rel)
		}
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	now := time.Now().UTC()
	meta := &types.FileMetadata{
		MountpointID: mountID,
		Path:         metaKey(rel),
		OwnerID:      userID,
		IsDirectory:  true,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	if err := s.store.UpsertFileWithQuota(ctx, meta, 0); err != nil {
		return nil, err
	}
	return meta, nil
}

// Rename moves an entry within its mountpoint. The tracked subtree moves
// with it; ownership is untouched.
func (s *Service) Rename(ctx context.Context, mountID, oldRel, newRel string) error {
	const op = "files.Rename"

	mount, err := s.writableMountpoint(ctx, op, mountID)
	if err != nil {
		return err
	}
	oldAbs, err := resolveWithin(mount.RootPath, oldRel)
	if err != nil {
		return err
	}
	newAbs, err := resolveWithin(mount.RootPath, newRel)
	if err != nil {
		return err
	}

	if _, err := os.Stat(oldAbs); err != nil {
		if os.IsNotExist(err) {
			return errdefs.Errorf(errdefs.KindNotFound, "%s: %s", op, oldRel)
		}
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if _, err := os.Stat(newAbs); err == nil {
		return errdefs.Errorf(errdefs.KindUniqueViolation, "%s: %s exists", op, newRel)
	}

	if err := os.Rename(oldAbs, newAbs); err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}
	err = s.store.MoveFileMetadata(ctx, mountID, metaKey(oldRel), metaKey(newRel))
	if err != nil && !errdefs.IsKind(err, errdefs.KindNotFound) {
		return err
	}
	return nil
}

// Move relocates an entry. Moves across mountpoints are refused; within a
// mountpoint it is a rename.
func (s *Service) Move(ctx context.Context, srcMountID, srcRel, dstMountID, dstRel string) error {
	const op = "files.Move"

	if srcMountID != dstMountID {
		return errdefs.Errorf(errdefs.KindCrossMount, "%s: %s and %s are different mountpoints",
			op, srcMountID, dstMountID)
	}
	return s.Rename(ctx, srcMountID, srcRel, dstRel)
}

// Delete removes an entry (recursively, for directories) and releases the
// freed bytes from the owner's quota in the metadata transaction.
func (s *Service) Delete(ctx context.Context, userID int64, mountID, rel string) error {
	const op = "files.Delete"

	mount, err := s.writableMountpoint(ctx, op, mountID)
	if err != nil {
		return err
	}
	abs, err := resolveWithin(mount.RootPath, rel)
	if err != nil {
		return err
	}
	key := metaKey(rel)
	if key == "" {
		return errdefs.Errorf(errdefs.KindInvalidArg, "%s: cannot delete the mountpoint root", op)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errdefs.Errorf(errdefs.KindNotFound, "%s: %s", op, rel)
		}
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}

	ownerID := userID
	var freed int64
	if tracked, terr := s.store.GetFileMetadata(ctx, mountID, key); terr == nil {
		ownerID = tracked.OwnerID
		freed = tracked.SizeBytes
	}
	if info.IsDir() {
		freed = treeSize(abs)
	}

	if err := os.RemoveAll(abs); err != nil {
		return errdefs.Wrap(err, errdefs.KindIO, op)
	}
	err = s.store.DeleteFileWithQuota(ctx, mountID, key, ownerID, freed)
	if err != nil && !errdefs.IsKind(err, errdefs.KindNotFound) {
		return err
	}
	return nil
}

func (s *Service) writableMountpoint(ctx context.Context, op, mountID string) (*types.Mountpoint, error) {
	mount, err := s.mountpoint(ctx, mountID)
	if err != nil {
		return nil, err
	}
	if mount.Readonly {
		return nil, errdefs.Errorf(errdefs.KindPermissionDenied, "%s: mountpoint %s is read-only", op, mountID)
	}
	return mount, nil
}

func treeSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
