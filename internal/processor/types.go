/**
 * Recognition types - shared data structures for plate and vehicle results
 *
 * Field names follow the OpenALPR JSON result format so canned recognizer
 * output and the upload payload share one shape.
 */

package processor

import (
	"context"
)

// Point is one plate corner in image pixel coordinates
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlateCandidate is one alternative reading of a plate
type PlateCandidate struct {
	Plate           string  `json:"plate"`
	Confidence      float64 `json:"confidence"`
	MatchesTemplate int     `json:"matches_template"`
}

// PlateResult is one detected plate, best candidate first
type PlateResult struct {
	Plate            string           `json:"plate"`
	Confidence       float64          `json:"confidence"`
	MatchesTemplate  int              `json:"matches_template"`
	PlateIndex       int              `json:"plate_index"`
	Region           string           `json:"region"`
	RegionConfidence float64          `json:"region_confidence"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	RequestedTopN    int              `json:"requested_topn"`
	Coordinates      []Point          `json:"coordinates"`
	Candidates       []PlateCandidate `json:"candidates"`
}

// PlateResponse is the output of one plate recognition call
type PlateResponse struct {
	Version          int           `json:"version"`
	DataType         string        `json:"data_type"`
	EpochTime        int64         `json:"epoch_time"`
	ImgWidth         int           `json:"img_width"`
	ImgHeight        int           `json:"img_height"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
	Results          []PlateResult `json:"results"`
}

// Classification is one ranked label of a vehicle attribute
type Classification struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// VehicleAttributes is the output of the vehicle classifier
type VehicleAttributes struct {
	Year        []Classification `json:"year"`
	Color       []Classification `json:"color"`
	MakeModel   []Classification `json:"make_model"`
	BodyType    []Classification `json:"body_type"`
	Orientation []Classification `json:"orientation"`
}

// Result is the enriched output of one job, ready for upload
type Result struct {
	Plates          *PlateResponse
	Vehicle         *VehicleAttributes
	PlateCropJPEG   string // base64 JPEG
	VehicleCropJPEG string // base64 JPEG, empty without a classifier
}

// Best returns the best plate candidate.
func (r *Result) Best() PlateResult {
	return r.Plates.Results[0]
}

// Job is one queued unit of recognition work
type Job struct {
	ReadID            string
	CameraName        string
	EpochTimeMs       int64
	CropImagePath     string
	OverviewImagePath string
}

// PlateRecognizer reads plates from an image file. Implementations are not
// assumed to be safe for concurrent use.
type PlateRecognizer interface {
	RecognizeFile(ctx context.Context, path string) (*PlateResponse, error)
	Close() error
}

// VehicleClassifier classifies the vehicle in an image file. Implementations
// are not assumed to be safe for concurrent use.
type VehicleClassifier interface {
	ClassifyFile(ctx context.Context, country, path string) (*VehicleAttributes, error)
	Close() error
}

// Engine is the set of recognizer instances owned by one worker
type Engine struct {
	Plates   PlateRecognizer
	Vehicles VehicleClassifier // optional
}

// Close releases both instances.
func (e *Engine) Close() error {
	var firstErr error
	if e.Plates != nil {
		firstErr = e.Plates.Close()
	}
	if e.Vehicles != nil {
		if err := e.Vehicles.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EngineFactory builds a fresh Engine. It is called once per worker.
type EngineFactory func() (*Engine, error)
