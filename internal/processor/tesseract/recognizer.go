/**
 * Tesseract plate recognizer
 *
 * Offline plate reader built on Tesseract. Every worker owns one client;
 * the crop image is read line by line and each text line becomes a plate
 * candidate whose box supplies the plate corners.
 */

package tesseract

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/alpr-importer/internal/processor"
)

// Config holds Tesseract configuration
type Config struct {
	Language string
	// Region is reported for every plate; Tesseract has no jurisdiction model.
	Region string
	// MinLength drops text lines shorter than this after normalization.
	MinLength int
}

// Recognizer performs plate OCR using Tesseract
type Recognizer struct {
	client    *gosseract.Client
	region    string
	minLength int
}

// NewRecognizer creates a new Tesseract client configured for plate text
func NewRecognizer(cfg *Config) (*Recognizer, error) {
	language := cfg.Language
	if language == "" {
		language = "eng"
	}
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = 2
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract language %s: %w", language, err)
	}
	if err := client.SetWhitelist(processor.PlateAlphabet); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set tesseract page segmentation: %w", err)
	}

	return &Recognizer{
		client:    client,
		region:    cfg.Region,
		minLength: minLength,
	}, nil
}

// RecognizeFile reads plate candidates from the image at path
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) (*processor.PlateResponse, error) {
	startTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height, err := imageSize(path)
	if err != nil {
		return nil, err
	}

	if err := r.client.SetImage(path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	elapsed := float64(time.Since(startTime).Microseconds()) / 1000
	results := make([]processor.PlateResult, 0, len(boxes))
	for _, box := range boxes {
		plate := processor.NormalizePlate(box.Word)
		if len(plate) < r.minLength {
			continue
		}
		results = append(results, processor.PlateResult{
			Plate:            plate,
			Confidence:       box.Confidence,
			Region:           r.region,
			ProcessingTimeMs: elapsed,
			RequestedTopN:    1,
			Coordinates:      processor.RectCorners(box.Box),
			Candidates: []processor.PlateCandidate{
				{Plate: plate, Confidence: box.Confidence},
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	for i := range results {
		results[i].PlateIndex = i
	}

	return &processor.PlateResponse{
		Version:          2,
		DataType:         "alpr_results",
		EpochTime:        startTime.UnixMilli(),
		ImgWidth:         width,
		ImgHeight:        height,
		ProcessingTimeMs: elapsed,
		Results:          results,
	}, nil
}

// Close releases the Tesseract client
func (r *Recognizer) Close() error {
	return r.client.Close()
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image size %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}
