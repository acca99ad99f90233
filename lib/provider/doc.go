// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider supplies reference implementations of the narrow
// block-read interface packagefs's block store consults
// (blockstore.Provider): FileProvider, backed by a local file, useful
// for tests and for running the mount without any real device
// attached; and SocketProvider, which fetches blocks from a peer
// process over a Unix domain socket using a deterministic CBOR wire
// format with optional zstd compression.
//
// The real device-to-host channel (a physical cable, a recovery-mode
// transport, whatever peer hands over package bytes) lives outside
// this repository; the concrete providers here are what a runnable
// mount needs to exercise blockstore.Provider end to end without one.
package provider
