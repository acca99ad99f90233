// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// packagefs-mount exposes a remote update package as a single local
// file, fetched lazily in fixed-size blocks and verified with a
// first-read-wins SHA-256 integrity contract. It mounts at the given
// directory and publishes exactly two entries: package.zip and exit.
//
// Usage:
//
//	packagefs-mount --config packagefs.yaml
//	packagefs-mount --config packagefs.yaml --mount /mnt/update --provider-file package.zip
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/glikched/bootable-recovery/lib/blockstore"
	"github.com/glikched/bootable-recovery/lib/config"
	"github.com/glikched/bootable-recovery/lib/packagefuse"
	"github.com/glikched/bootable-recovery/lib/provider"
	"github.com/glikched/bootable-recovery/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "packagefs-mount: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath    string
		mountPoint    string
		providerFile  string
		socketNetwork string
		socketAddr    string
		blockSize     uint32
		showVersion   bool
	)

	flagSet := pflag.NewFlagSet("packagefs-mount", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv(config.EnvVar), "path to packagefs.yaml (overrides "+config.EnvVar+")")
	flagSet.StringVar(&mountPoint, "mount", "", "mount point directory (overrides config's mount_point)")
	flagSet.StringVar(&providerFile, "provider-file", "", "serve blocks from this local file instead of a socket peer")
	flagSet.StringVar(&socketNetwork, "provider-socket-network", "", "network for a socket provider (e.g. unix)")
	flagSet.StringVar(&socketAddr, "provider-socket-address", "", "address for a socket provider")
	flagSet.Uint32Var(&blockSize, "block-size", 0, "block size in bytes, 4096-4194304 (overrides config's block_size)")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Println("packagefs-mount", version.Info())
		return nil
	}

	logLevel := slog.LevelInfo
	if os.Getenv("PACKAGEFS_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, mountPoint, providerFile, socketNetwork, socketAddr, blockSize)
	if err := cfg.Validate(); err != nil {
		return err
	}

	blockProvider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	// The provider's BlockSize() is authoritative once it has been
	// constructed: a SocketProvider's peer may have negotiated a
	// different block size than cfg.BlockSize requested, and the
	// store, cache budget, and kernel mount option must all agree
	// with what the provider will actually hand back.
	negotiatedBlockSize := blockProvider.BlockSize()

	cacheCapacity, err := cacheCapacityFor(cfg, blockProvider, negotiatedBlockSize)
	if err != nil {
		blockProvider.Close()
		return err
	}

	store, err := blockstore.New(blockProvider, blockProvider.FileSize(), negotiatedBlockSize, cacheCapacity, logger)
	if err != nil {
		blockProvider.Close()
		return fmt.Errorf("packagefs-mount: build block store: %w", err)
	}

	session := packagefuse.NewSession(store, uint32(os.Getuid()), uint32(os.Getgid()), logger)

	logger.Info("mounting",
		"mount_point", cfg.MountPoint,
		"file_size", store.FileSize(),
		"block_size", store.BlockSize(),
		"cache_blocks", cacheCapacity,
	)

	return packagefuse.Run(packagefuse.Options{
		MountPoint: cfg.MountPoint,
		UID:        session.UID,
		GID:        session.GID,
		BlockSize:  negotiatedBlockSize,
	}, session)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func applyFlagOverrides(cfg *config.Config, mountPoint, providerFile, socketNetwork, socketAddr string, blockSize uint32) {
	if mountPoint != "" {
		cfg.MountPoint = mountPoint
	}
	if providerFile != "" {
		cfg.Provider.Kind = config.ProviderFile
		cfg.Provider.FilePath = providerFile
	}
	if socketAddr != "" {
		cfg.Provider.Kind = config.ProviderSocket
		cfg.Provider.SocketAddress = socketAddr
		if socketNetwork != "" {
			cfg.Provider.SocketNetwork = socketNetwork
		}
	}
	if blockSize != 0 {
		cfg.BlockSize = blockSize
	}
}

func buildProvider(cfg *config.Config) (blockstore.Provider, error) {
	switch cfg.Provider.Kind {
	case config.ProviderFile:
		return provider.NewFileProvider(cfg.Provider.FilePath, cfg.BlockSize)
	case config.ProviderSocket:
		return provider.DialSocketProvider(cfg.Provider.SocketNetwork, cfg.Provider.SocketAddress, cfg.BlockSize)
	default:
		return nil, fmt.Errorf("packagefs-mount: unknown provider kind %q", cfg.Provider.Kind)
	}
}

func cacheCapacityFor(cfg *config.Config, p blockstore.Provider, blockSize uint32) (uint32, error) {
	if cfg.Cache.Disable {
		return 0, nil
	}
	blockCount := uint32(0)
	if p.FileSize() > 0 {
		blockCount = uint32((p.FileSize() + uint64(blockSize) - 1) / uint64(blockSize))
	}
	budget, err := packagefuse.AvailableCacheBudget(cfg.Cache.ReservationBytes, blockCount)
	if err != nil {
		return 0, fmt.Errorf("packagefs-mount: compute cache budget: %w", err)
	}
	return blockstore.CacheCapacity(budget, blockSize, blockCount), nil
}
