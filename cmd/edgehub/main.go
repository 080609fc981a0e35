// Copyright 2025 The EdgeHub Authors
// This file is part of EdgeHub.
//
// EdgeHub is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// EdgeHub is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with EdgeHub. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/richma-ms/iotedge/config"
	"github.com/richma-ms/iotedge/keylock"
	"github.com/richma-ms/iotedge/kv/mdbxstore"
	"github.com/richma-ms/iotedge/logging"
	"github.com/richma-ms/iotedge/metrics"
	"github.com/richma-ms/iotedge/scope"
	"github.com/richma-ms/iotedge/twin"
)

const shutdownGrace = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "edgehub",
		Usage: "IoT edge gateway core daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: "edgehub-data", Usage: "directory for the local database"},
			&cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
			&cli.StringFlag{Name: "gateway.id", Value: "edgehub", Usage: "this gateway's own device id"},
			&cli.StringFlag{Name: "log.level", Value: "info", Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "log.file", Usage: "log to this file (rotated) instead of stderr"},
			&cli.StringFlag{Name: "metrics.addr", Usage: "serve prometheus metrics on this address"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg := config.Default()
	if path := cliCtx.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}

	log, err := logging.New(cliCtx.String("log.level"), cliCtx.String("log.file"))
	if err != nil {
		return err
	}
	defer log.Sync()

	datadir := cliCtx.String("datadir")
	if err := os.MkdirAll(datadir, 0o755); err != nil {
		return err
	}
	db, err := mdbxstore.New(filepath.Join(datadir, "edgehub.dat"))
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No cloud or identity-service bridge is wired here: the gateway runs on
	// the offline seams and serves its persisted state.
	var (
		cloud twin.CloudSync = twin.OfflineCloudSync{}
		proxy scope.Proxy    = scope.OfflineProxy{}
		conns                = twin.NoClients{}
	)

	twinLocks := keylock.New(cfg.LockStripes)
	queueLocks := keylock.New(cfg.LockStripes)
	store := twin.NewStore(db, twinLocks, nil, log)
	queue, err := twin.NewReportedQueue(ctx, db, cloud, queueLocks, twin.QueueConfig{
		SyncInterval: cfg.Twin.ReportedSyncInterval,
	}, nil, log)
	if err != nil {
		return err
	}
	manager := twin.NewManager(store, queue, cloud, conns, twin.ManagerConfig{
		MinSyncPeriod: cfg.Twin.MinSyncPeriod,
	}, nil, log)
	_ = manager // driven by the transport layer

	hier := scope.NewHierarchy(cliCtx.String("gateway.id"))
	cache := scope.NewCache(db, hier, proxy, scope.CacheConfig{
		RefreshInterval: cfg.Scope.RefreshInterval,
		RefreshDelay:    cfg.Scope.RefreshDelay,
	}, nil, log)
	cache.Subscribe(func(ev scope.IdentityChange) {
		log.Info("identity scope changed", zap.String("kind", ev.Kind.String()), zap.String("id", ev.ID))
	})
	if err := cache.Start(ctx); err != nil {
		return err
	}

	// periodic drain of anything InitiateSync missed
	go func() {
		t := time.NewTicker(cfg.Twin.ReportedSyncInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				queue.SyncAll(ctx)
			}
		}
	}()

	if addr := cliCtx.String("metrics.addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", addr))
	}

	log.Info("edgehub started", zap.String("datadir", datadir))
	<-ctx.Done()
	log.Info("shutting down")

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := queue.Close(graceCtx); err != nil {
		log.Warn("reported queue drain cut short", zap.Error(err))
	}
	<-cache.Done()
	return nil
}
