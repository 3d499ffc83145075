package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/tf-state-backend/auth"
	"github.com/ruteri/tf-state-backend/cmd/flags"
	"github.com/ruteri/tf-state-backend/common"
	"github.com/ruteri/tf-state-backend/httpserver"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/lock"
	"github.com/ruteri/tf-state-backend/metadata"
	"github.com/ruteri/tf-state-backend/statestore"
	"github.com/ruteri/tf-state-backend/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "tfstate-server",
		Usage:   "Serve remote state with locking and backup rotation",
		Version: common.Version,
		Flags:   append(append([]cli.Flag{flags.LogServiceFlagFn(common.PackageName)}, flags.CommonFlags...), flags.ServerFlags...),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg, err := flags.ConfigureServer(cCtx, logger)
	if err != nil {
		return err
	}

	setupCtx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
	defer cancel()

	// Blob store, mirrored when several locations are given
	var locations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice(flags.BlobStoreFlag.Name) {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			logger.Error("Invalid blob store location", "uri", uri, "err", err)
			return err
		}
		locations = append(locations, location)
	}

	blobs, err := storage.NewStorageBackendFactory(logger).CreateMirroredStore(locations)
	if err != nil {
		logger.Error("Failed to create blob store", "err", err)
		return err
	}
	if !blobs.Available(setupCtx) {
		logger.Error("Blob store is not available", "store", blobs.Name())
		return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, blobs.Name())
	}
	logger.Info("Blob store ready", "store", blobs.Name())

	// Metadata store
	metadataLocation, err := interfaces.NewStorageBackendLocation(cCtx.String(flags.MetadataStoreFlag.Name))
	if err != nil {
		logger.Error("Invalid metadata store location", "err", err)
		return err
	}
	meta, err := metadata.NewStoreFactory(logger).MetadataStoreFor(setupCtx, metadataLocation)
	if err != nil {
		logger.Error("Failed to create metadata store", "err", err)
		return err
	}
	if closer, ok := meta.(io.Closer); ok {
		defer closer.Close()
	}
	if !meta.Available(setupCtx) {
		logger.Error("Metadata store is not available", "store", meta.Name())
		return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, meta.Name())
	}
	logger.Info("Metadata store ready", "store", meta.Name())

	if n := cCtx.Int(flags.MaxBackupsFlag.Name); n != 0 {
		if err := meta.SetMaxBackups(setupCtx, n); err != nil {
			logger.Error("Failed to set backup depth", "max_backups", n, "err", err)
			return err
		}
	}

	// Auth
	var users map[string]auth.Credential
	if path := cCtx.String(flags.CredentialsFileFlag.Name); path != "" {
		users, err = auth.LoadCredentials(path)
		if err != nil {
			logger.Error("Failed to load credentials", "file", path, "err", err)
			return err
		}
		logger.Info("Credentials loaded", "file", path, "users", len(users))
	}
	authn := auth.New(cCtx.String(flags.AuthTokenFlag.Name), users, logger)
	if !authn.Enabled() {
		logger.Warn("No auth token or credentials configured, API is unauthenticated")
	}

	handler := httpserver.NewHandler(
		statestore.New(blobs, meta, logger),
		lock.NewCoordinator(meta, logger),
		cCtx.Bool(flags.EnforceLockFlag.Name),
		logger,
	)

	server, err := httpserver.New(cfg, handler, authn)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	// Wait for termination signal
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}
