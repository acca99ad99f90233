// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package packagefuse

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Options configures a mount: where to mount, the credentials to
// report in attribute replies, and the negotiated block size (which
// also becomes the kernel's max_read).
type Options struct {
	MountPoint string
	UID        uint32
	GID        uint32
	BlockSize  uint32
}

// fuseConn wraps the /dev/fuse file descriptor with the two syscalls
// the dispatcher needs: a plain read for requests and a single
// writev for gather-I/O replies, so read payloads never need to be
// copied into a contiguous buffer before being sent back.
type fuseConn struct {
	fd int
}

func (c *fuseConn) Read(buf []byte) (int, error) {
	return unix.Read(c.fd, buf)
}

func (c *fuseConn) WriteSegments(segments [][]byte) error {
	_, err := unix.Writev(c.fd, segments)
	return err
}

func (c *fuseConn) Close() error {
	return unix.Close(c.fd)
}

// Mount opens /dev/fuse and issues the mount syscall with a read-only,
// no-exec, no-setuid option string, since this filesystem never serves
// anything but read-only package bytes and a sentinel. It first
// best-effort force-unmounts opts.MountPoint to recover from a process
// that crashed without tearing its previous mount down.
func Mount(opts Options) (*fuseConn, error) {
	_ = unix.Unmount(opts.MountPoint, unix.MNT_FORCE)

	fd, err := unix.Open("/dev/fuse", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("packagefuse: open /dev/fuse: %w", err)
	}

	data := fmt.Sprintf(
		"fd=%d,user_id=%d,group_id=%d,max_read=%d,allow_other,rootmode=040000",
		fd, opts.UID, opts.GID, opts.BlockSize,
	)
	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_RDONLY | unix.MS_NOEXEC)
	if err := unix.Mount("/dev/fuse", opts.MountPoint, "fuse", flags, data); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("packagefuse: mount %s: %w", opts.MountPoint, err)
	}
	return &fuseConn{fd: fd}, nil
}

// Unmount issues a detaching unmount, used at teardown once the
// dispatcher loop has returned.
func Unmount(mountPoint string) error {
	if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("packagefuse: unmount %s: %w", mountPoint, err)
	}
	return nil
}

// Run mounts at opts.MountPoint, drives session's dispatcher loop to
// completion, and tears everything down regardless of how the loop
// exited. The returned error is the dispatcher's; teardown errors are
// logged but never override it, since a failure to close an
// already-exited resource says nothing about whether the mount itself
// did its job.
func Run(opts Options, session *Session) error {
	conn, err := Mount(opts)
	if err != nil {
		return err
	}

	serveErr := session.Serve(conn)

	if err := session.Store.Close(); err != nil {
		session.Logger.Warn("closing provider", "err", err)
	}
	if err := conn.Close(); err != nil {
		session.Logger.Warn("closing fuse descriptor", "err", err)
	}
	if err := Unmount(opts.MountPoint); err != nil {
		session.Logger.Warn("unmount at teardown failed", "err", err)
	}

	return serveErr
}
