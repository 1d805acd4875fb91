package core

import (
	"context"
	"io"
	"time"

	"github.com/baluhost/baluhost/pkg/auth"
	"github.com/baluhost/baluhost/pkg/events"
	"github.com/baluhost/baluhost/pkg/metrics"
	"github.com/baluhost/baluhost/pkg/raid"
	"github.com/baluhost/baluhost/pkg/types"
)

// RAID

func (c *Core) RaidList(ctx context.Context) ([]types.RaidArray, error) {
	return c.controller.List(ctx)
}

func (c *Core) RaidGet(ctx context.Context, name string) (*types.RaidArray, error) {
	return c.controller.Get(ctx, name)
}

func (c *Core) RaidCreate(ctx context.Context, name string, level types.RaidLevel, devices, spares []string, chunkKB int) error {
	return c.controller.CreateArray(ctx, name, level, devices, spares, chunkKB)
}

func (c *Core) RaidDelete(ctx context.Context, name string) error {
	return c.controller.DeleteArray(ctx, name)
}

func (c *Core) RaidFail(ctx context.Context, name, device string) error {
	return c.controller.FailDevice(ctx, name, device)
}

func (c *Core) RaidRemove(ctx context.Context, name, device string) error {
	return c.controller.RemoveDevice(ctx, name, device)
}

func (c *Core) RaidAddSpare(ctx context.Context, name, device string) error {
	return c.controller.AddSpare(ctx, name, device)
}

func (c *Core) RaidSetWriteMostly(ctx context.Context, name, device string, on bool) error {
	return c.controller.SetWriteMostly(ctx, name, device, on)
}

func (c *Core) RaidSetBitmap(ctx context.Context, name string, mode types.BitmapMode) error {
	return c.controller.SetBitmap(ctx, name, mode)
}

func (c *Core) RaidSetSyncLimits(ctx context.Context, name string, minKB, maxKB int) error {
	return c.controller.SetSyncLimits(ctx, name, minKB, maxKB)
}

func (c *Core) RaidStartScrub(ctx context.Context, name string, action types.ScrubAction) error {
	return c.controller.StartScrub(ctx, name, action)
}

func (c *Core) ListFreeDevices(ctx context.Context) ([]raid.FreeDevice, error) {
	return c.controller.ListFreeDevices(ctx)
}

// Monitoring

func (c *Core) CurrentCPU() (types.CPUSample, error) { return c.monitor.CurrentCPU() }

func (c *Core) CurrentMemory() (types.MemorySample, error) { return c.monitor.CurrentMemory() }

func (c *Core) CurrentNetwork() []types.NetworkSample { return c.monitor.CurrentNetwork() }

func (c *Core) CurrentDisks() []types.DiskSample { return c.monitor.CurrentDisks() }

func (c *Core) CurrentProcesses() []types.ProcessSample { return c.monitor.CurrentProcesses() }

func (c *Core) CurrentSmart(ctx context.Context, device string) (*types.SmartRecord, error) {
	return c.monitor.CurrentSmart(ctx, device)
}

func (c *Core) ScanSmart(ctx context.Context) ([]types.SmartRecord, error) {
	return c.monitor.ScanSmart(ctx)
}

func (c *Core) HistoryCPU(ctx context.Context, r types.Range) ([]types.CPUSample, error) {
	return c.monitor.HistoryCPU(ctx, r)
}

func (c *Core) HistoryMemory(ctx context.Context, r types.Range) ([]types.MemorySample, error) {
	return c.monitor.HistoryMemory(ctx, r)
}

func (c *Core) HistoryNetwork(ctx context.Context, iface string, r types.Range) ([]types.NetworkSample, error) {
	return c.monitor.HistoryNetwork(ctx, iface, r)
}

func (c *Core) HistoryDiskIO(ctx context.Context, device string, r types.Range) ([]types.DiskSample, error) {
	return c.monitor.HistoryDiskIO(ctx, device, r)
}

func (c *Core) HistorySmart(ctx context.Context, device string, r types.Range) ([]types.SmartRecord, error) {
	return c.monitor.HistorySmart(ctx, device, r)
}

// Scheduler

func (c *Core) ListJobs(ctx context.Context) ([]*types.ScheduledJob, error) {
	return c.scheduler.Jobs(ctx)
}

func (c *Core) GetJob(ctx context.Context, name string) (*types.ScheduledJob, error) {
	return c.scheduler.Job(ctx, name)
}

func (c *Core) RunJobNow(name string) error {
	return c.scheduler.RunNow(name)
}

func (c *Core) SetJobEnabled(ctx context.Context, name string, enabled bool) error {
	return c.scheduler.SetEnabled(ctx, name, enabled)
}

func (c *Core) JobHistory(ctx context.Context, name string, limit int) ([]*types.JobExecution, error) {
	return c.scheduler.History(ctx, name, limit)
}

// Tokens

func (c *Core) IssueToken(ctx context.Context, userID int64, deviceID, ip, userAgent string) (token, jti string, err error) {
	return c.tokens.Issue(ctx, userID, deviceID, ip, userAgent)
}

func (c *Core) VerifyToken(ctx context.Context, jti, token string) (*types.RefreshToken, error) {
	return c.tokens.Verify(ctx, jti, token)
}

func (c *Core) RevokeToken(ctx context.Context, jti, reason string) error {
	return c.tokens.Revoke(ctx, jti, reason)
}

func (c *Core) RevokeAllForUser(ctx context.Context, userID int64, reason string) (int64, error) {
	return c.tokens.RevokeAllForUser(ctx, userID, reason)
}

func (c *Core) RevokeDevice(ctx context.Context, userID int64, deviceID, reason string) (int64, error) {
	return c.tokens.RevokeDevice(ctx, userID, deviceID, reason)
}

func (c *Core) CleanupTokens(ctx context.Context, now time.Time) (int64, error) {
	return c.tokens.Cleanup(ctx, now)
}

// Auth

func (c *Core) CreateUser(ctx context.Context, username, email, password string, role types.UserRole) (*types.User, error) {
	return c.auth.CreateUser(ctx, username, email, password, role)
}

func (c *Core) Login(ctx context.Context, username, password, deviceID, ip, userAgent string) (*auth.Session, error) {
	return c.auth.Login(ctx, username, password, deviceID, ip, userAgent)
}

func (c *Core) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	return c.auth.ChangePassword(ctx, userID, current, next)
}

func (c *Core) VerifyAccess(tokenString string) (*auth.Claims, error) {
	return c.auth.VerifyAccess(tokenString)
}

// Files

func (c *Core) FsList(ctx context.Context, mountID, dir string) ([]*types.FileMetadata, error) {
	return c.files.List(ctx, mountID, dir)
}

func (c *Core) FsStat(ctx context.Context, mountID, rel string) (*types.FileMetadata, error) {
	return c.files.Stat(ctx, mountID, rel)
}

func (c *Core) FsWrite(ctx context.Context, userID int64, mountID, rel string, r io.Reader, size int64) (*types.FileMetadata, error) {
	return c.files.Write(ctx, userID, mountID, rel, r, size)
}

func (c *Core) FsRead(ctx context.Context, mountID, rel string) (io.ReadCloser, error) {
	return c.files.Read(ctx, mountID, rel)
}

func (c *Core) FsMkdir(ctx context.Context, userID int64, mountID, rel string) (*types.FileMetadata, error) {
	return c.files.Mkdir(ctx, userID, mountID, rel)
}

func (c *Core) FsRename(ctx context.Context, mountID, oldRel, newRel string) error {
	return c.files.Rename(ctx, mountID, oldRel, newRel)
}

func (c *Core) FsMove(ctx context.Context, srcMountID, srcRel, dstMountID, dstRel string) error {
	return c.files.Move(ctx, srcMountID, srcRel, dstMountID, dstRel)
}

func (c *Core) FsDelete(ctx context.Context, userID int64, mountID, rel string) error {
	return c.files.Delete(ctx, userID, mountID, rel)
}

func (c *Core) Mountpoints(ctx context.Context) ([]*types.Mountpoint, error) {
	return c.files.Mountpoints(ctx)
}

func (c *Core) QuotaOf(ctx context.Context, userID int64) (*types.Quota, error) {
	return c.files.Quota(ctx, userID)
}

func (c *Core) SetQuota(ctx context.Context, userID, limitBytes int64) error {
	return c.files.SetQuota(ctx, userID, limitBytes)
}

// Events

func (c *Core) Subscribe(topic events.Topic, bufSize int) *events.Subscription {
	return c.broker.Subscribe(topic, bufSize)
}

// Health

func (c *Core) Health() metrics.HealthStatus { return metrics.GetHealth() }

func (c *Core) Readiness() metrics.HealthStatus { return metrics.GetReadiness() }
