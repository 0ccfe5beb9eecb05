package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"tablestream/pkg/fileio"
	"tablestream/pkg/options"
	"tablestream/pkg/scan"
	"tablestream/pkg/server"
	"tablestream/pkg/source"
	"tablestream/pkg/table"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func setupLogging() {
	level, err := logrus.ParseLevel(options.GetEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if options.GetEnvOrDefault("LOG_FORMAT", "text") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func openFileIO() (fileio.FileIO, error) {
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		return fileio.NewS3FileIO(fileio.S3Config{
			Bucket:   bucket,
			Prefix:   os.Getenv("S3_PREFIX"),
			Region:   options.GetEnvOrDefault("S3_REGION", "us-east-1"),
			Endpoint: os.Getenv("S3_ENDPOINT"),
		})
	}
	return fileio.NewLocalFileIO(options.GetEnvOrDefault("TABLE_PATH", "./table"))
}

// parseDynamicOptions reads "k1=v1,k2=v2".
func parseDynamicOptions(raw string) (map[string]string, error) {
	dynamic := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", options.ErrInvalidOption, part)
		}
		dynamic[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return dynamic, nil
}

func wait(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// consume logs every row of the queued batches until ctx is done. A batch
// that fails to read stops the loop uncommitted, so a restart from the
// checkpoint reads it again.
func consume(ctx context.Context, p *source.Poller, interval time.Duration) error {
	for {
		batch, ok := p.Poll()
		if !ok {
			if err := wait(ctx, interval); err != nil {
				return err
			}
			continue
		}
		rows, err := consumeBatch(batch)
		if rerr := batch.Records.Recycle(); rerr != nil {
			logrus.Warnf("Failed releasing snapshot %d: %v", batch.SnapshotID, rerr)
		}
		if err != nil {
			return fmt.Errorf("error reading snapshot %d: %w", batch.SnapshotID, err)
		}
		p.Commit(batch)
		logrus.WithFields(logrus.Fields{"snapshot": batch.SnapshotID, "rows": rows}).Info("Consumed plan")
	}
}

func consumeBatch(batch *source.Batch) (int, error) {
	rows := 0
	for _, ok := batch.Records.NextSplit(); ok; _, ok = batch.Records.NextSplit() {
		for {
			row, ok, err := batch.Records.NextRecordFromSplit()
			if err != nil {
				return rows, err
			}
			if !ok {
				break
			}
			rows++
			logrus.Debug(row.String())
		}
	}
	return rows, batch.Records.Err()
}

func main() {
	setupLogging()
	logrus.Debug("starting tablestream")

	fio, err := openFileIO()
	if err != nil {
		logrus.Errorf("error opening file io: %v", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tbl, err := table.Open(ctx, fio)
	if err != nil {
		logrus.Errorf("error opening table: %v", err)
		os.Exit(1)
	}
	dynamic, err := parseDynamicOptions(os.Getenv("TABLE_OPTIONS"))
	if err == nil && len(dynamic) > 0 {
		tbl, err = tbl.Copy(dynamic)
	}
	if err != nil {
		logrus.Errorf("error applying table options: %v", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	tbl.WithMetrics(scan.NewMetrics(reg))

	reader := source.NewStreamingReader(tbl, nil, nil)
	if cp := options.GetEnvOrDefaultInt("CHECKPOINT", -1); cp >= 0 {
		reader.WithCheckpoint(cp)
		logrus.Infof("Resuming after snapshot %d", cp)
	}
	interval := time.Duration(options.GetEnvOrDefaultInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond
	poller := source.NewPoller(reader, uint32(options.GetEnvOrDefaultInt("QUEUE_CAPACITY", 16)), interval)

	httpServer := server.NewHTTPServer(tbl, reg, poller.Checkpoint)
	if err = httpServer.Start(":" + options.GetEnvOrDefault("HTTP_PORT", "8080")); err != nil {
		logrus.Errorf("error creating tcp listener: %v", err)
		os.Exit(1)
	}

	var failed atomic.Bool
	stopOnError := func(what string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Errorf("%s stopped: %v", what, err)
			failed.Store(true)
			cancel()
		}
	}
	go func() { stopOnError("poller", poller.Run(ctx)) }()
	go func() { stopOnError("consumer", consume(ctx, poller, interval)) }()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
		logrus.Warn("received shutdown signal!")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("failed to shutdown HTTP server: %v", err)
	} else {
		logrus.Info("successfully shutdown HTTP server")
	}
	if id, ok := poller.Checkpoint(); ok {
		logrus.Infof("last consumed snapshot %d", id)
	}
	if failed.Load() {
		os.Exit(1)
	}
}
