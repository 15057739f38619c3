// Command alpr-process runs a single read through recognition and upload.
//
//	alpr-process --crop-image crop.jpg --overview-image overview.jpg \
//	    --camera-name cam1 --epoch-time 1714550400000
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/gnuflag"

	"github.com/adverant/nexus/alpr-importer/internal/app"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
)

func main() {
	fs := gnuflag.NewFlagSet("alpr-process", gnuflag.ExitOnError)
	crop := fs.String("crop-image", "", "plate crop image")
	overview := fs.String("overview-image", "", "vehicle overview image")
	camera := fs.String("camera-name", "", "camera section name in the config file")
	epoch := fs.Int64("epoch-time", 0, "read time in epoch milliseconds")
	threads := fs.Int("threads", 1, "recognition workers")
	configPath := fs.String("config", "", "path to import_config.ini")
	_ = fs.Parse(true, os.Args[1:])

	if *crop == "" || *overview == "" || *camera == "" || *epoch <= 0 {
		fmt.Fprintln(os.Stderr, "alpr-process: --crop-image, --overview-image, --camera-name and --epoch-time are required")
		fs.PrintDefaults()
		os.Exit(2)
	}

	cfg, log, closer, err := app.Bootstrap(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alpr-process: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	uploader, err := app.NewUploadClient(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize upload client")
	}

	pool, err := app.NewPool(cfg, *threads, uploader, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize recognition pool")
	}
	defer pool.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := &processor.Job{
		ReadID:            "manual",
		CameraName:        *camera,
		EpochTimeMs:       *epoch,
		CropImagePath:     *crop,
		OverviewImagePath: *overview,
	}
	if err := pool.Process(ctx, job); err != nil {
		log.Error().Err(err).Msg("failed to enqueue job")
		return
	}
	if err := pool.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("interrupted before the job finished")
		return
	}

	log.Info().Interface("stats", pool.Stats()).Msg("done")
}
