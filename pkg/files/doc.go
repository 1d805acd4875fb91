// Package files is the sandboxed file layer over the mountpoints the
// system exposes: RAID arrays, configured plain disks, and the two
// virtual roots. Every operation resolves its path inside the mountpoint
// before touching the filesystem, and every tracked write settles the
// owner's quota and the metadata row in one transaction.
package files
