/**
 * Plate processor for the ALPR import worker
 *
 * Runs one job through a worker's private recognizer engine:
 * - plate recognition on the crop image
 * - plate thumbnail cut around every detected plate corner
 * - optional vehicle classification on the overview image
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/errors"
)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine  *Engine
	Country string
	Log     zerolog.Logger
}

// Processor turns jobs into upload-ready results. One Processor belongs to
// exactly one worker.
type Processor struct {
	engine  *Engine
	country string
	log     zerolog.Logger
}

// NewProcessor creates a new processor
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Engine == nil || cfg.Engine.Plates == nil {
		return nil, fmt.Errorf("plate recognizer is required")
	}

	country := cfg.Country
	if country == "" {
		country = "us"
	}

	return &Processor{
		engine:  cfg.Engine,
		country: country,
		log:     cfg.Log,
	}, nil
}

// Process recognizes the plate of job. A job without plate candidates
// returns an ErrorNoPlate error and must not be uploaded.
func (p *Processor) Process(ctx context.Context, job *Job) (*Result, error) {
	startTime := time.Now()

	plates, err := p.engine.Plates.RecognizeFile(ctx, job.CropImagePath)
	if err != nil {
		return nil, errors.NewRecognitionFailedError(job.CropImagePath, err)
	}
	if plates == nil || len(plates.Results) == 0 {
		return nil, errors.NewNoPlateError(job.CameraName, job.EpochTimeMs)
	}

	crop, err := loadImage(job.CropImagePath)
	if err != nil {
		return nil, errors.NewRecognitionFailedError(job.CropImagePath, err)
	}
	size := crop.Bounds().Size()
	region, ok := PlateRegion(plates, size.X, size.Y)
	if !ok {
		// No corners reported: keep the whole crop image
		region = BoundingBox{}
	}
	plateCrop, err := encodeThumbnail(crop, region, PlateCropWidth)
	if err != nil {
		return nil, errors.NewRecognitionFailedError(job.CropImagePath, err)
	}

	result := &Result{
		Plates:        plates,
		PlateCropJPEG: plateCrop,
	}

	if p.engine.Vehicles != nil {
		vehicle, err := p.engine.Vehicles.ClassifyFile(ctx, p.country, job.OverviewImagePath)
		if err != nil {
			return nil, errors.NewRecognitionFailedError(job.OverviewImagePath, err)
		}
		overview, err := loadImage(job.OverviewImagePath)
		if err != nil {
			return nil, errors.NewRecognitionFailedError(job.OverviewImagePath, err)
		}
		vehicleCrop, err := encodeThumbnail(overview, BoundingBox{}, VehicleCropWidth)
		if err != nil {
			return nil, errors.NewRecognitionFailedError(job.OverviewImagePath, err)
		}
		result.Vehicle = vehicle
		result.VehicleCropJPEG = vehicleCrop
	}

	best := result.Best()
	p.log.Debug().
		Str("read_id", job.ReadID).
		Str("camera", job.CameraName).
		Str("plate", best.Plate).
		Float64("confidence", best.Confidence).
		Int("candidates", len(plates.Results)).
		Dur("duration", time.Since(startTime)).
		Msg("recognized plate")

	return result, nil
}
