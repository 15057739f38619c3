/**
 * Upload Client for the ALPR import worker
 *
 * Posts one recognized plate group to the web service. Delivery is
 * at-least-once: every failed attempt is retried after a fixed delay until
 * the service answers 2xx or the worker shuts down. Duplicates are
 * recognizable by the synthetic uuid agent-camera-epoch.
 */

package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/config"
	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
)

//go:embed default_group.template.json
var defaultGroupTemplate []byte

// UploadClient handles delivery of plate groups to the web service
type UploadClient struct {
	url           string
	companyID     string
	agentUID      string
	retryInterval time.Duration
	template      map[string]interface{}
	cameras       config.Cameras
	httpClient    *http.Client
	clock         clock.Clock
	log           zerolog.Logger
}

// UploadClientConfig holds upload client configuration
type UploadClientConfig struct {
	URL                string
	CompanyID          string
	AgentUID           string
	Timeout            time.Duration // bounds a single attempt
	RetryInterval      time.Duration
	InsecureSkipVerify bool
	TemplatePath       string // empty uses the built-in template
	Cameras            config.Cameras
	Clock              clock.Clock
	Log                zerolog.Logger
}

// bestPlate is the best candidate plus its thumbnail
type bestPlate struct {
	processor.PlateResult
	PlateCropJPEG string `json:"plate_crop_jpeg"`
}

// NewUploadClient creates a new upload client
func NewUploadClient(cfg *UploadClientConfig) (*UploadClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("upload URL is required")
	}

	if cfg.AgentUID == "" {
		return nil, fmt.Errorf("agent uid is required")
	}

	raw := defaultGroupTemplate
	if cfg.TemplatePath != "" {
		data, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read group template %s: %w", cfg.TemplatePath, err)
		}
		raw = data
	}
	var template map[string]interface{}
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, fmt.Errorf("failed to parse group template: %w", err)
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = time.Second
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &UploadClient{
		url:           cfg.URL,
		companyID:     cfg.CompanyID,
		agentUID:      cfg.AgentUID,
		retryInterval: retryInterval,
		template:      template,
		cameras:       cfg.Cameras,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		clock: clk,
		log:   cfg.Log,
	}, nil
}

// UUID is the dedupe key of one upload.
func (c *UploadClient) UUID(cameraID string, epochMs int64) string {
	return fmt.Sprintf("%s-%s-%d", c.agentUID, cameraID, epochMs)
}

// BuildPayload merges result into a copy of the group template.
func (c *UploadClient) BuildPayload(cameraName string, epochMs int64, result *processor.Result) (map[string]interface{}, error) {
	camera, ok := c.cameras.Lookup(cameraName)
	if !ok {
		return nil, errors.NewUnknownCameraError(cameraName)
	}
	if result == nil || result.Plates == nil || len(result.Plates.Results) == 0 {
		return nil, errors.NewNoPlateError(cameraName, epochMs)
	}

	payload := make(map[string]interface{}, len(c.template)+8)
	for k, v := range c.template {
		payload[k] = v
	}

	best := result.Best()
	id := c.UUID(camera.ID, epochMs)

	var uuids []interface{}
	if existing, ok := c.template["uuids"].([]interface{}); ok {
		uuids = append(uuids, existing...)
	}
	uuids = append(uuids, id)

	candidates := best.Candidates
	if candidates == nil {
		candidates = []processor.PlateCandidate{}
	}

	payload["company_id"] = c.companyID
	payload["agent_uid"] = c.agentUID
	payload["gps_latitude"] = numberOrString(camera.Latitude)
	payload["gps_longitude"] = numberOrString(camera.Longitude)
	payload["best_uuid"] = id
	payload["uuids"] = uuids
	payload["epoch_start"] = epochMs
	payload["epoch_end"] = epochMs
	payload["best_plate"] = bestPlate{PlateResult: best, PlateCropJPEG: result.PlateCropJPEG}
	payload["best_plate_number"] = best.Plate
	payload["best_confidence"] = best.Confidence
	payload["best_region"] = best.Region
	payload["best_region_confidence"] = best.RegionConfidence
	payload["candidates"] = candidates
	if result.Vehicle != nil {
		payload["vehicle"] = result.Vehicle
		payload["vehicle_crop_jpeg"] = result.VehicleCropJPEG
	}

	return payload, nil
}

// Upload delivers one result, retrying until the service accepts it. It
// returns early only for results that can never be delivered (unknown
// camera) or when ctx is cancelled.
func (c *UploadClient) Upload(ctx context.Context, cameraName string, epochMs int64, result *processor.Result) error {
	payload, err := c.BuildPayload(cameraName, epochMs, result)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal upload payload: %w", err)
	}

	bestUUID := payload["best_uuid"].(string)
	c.log.Debug().RawJSON("payload", body).Msg("upload payload")

	err = retry.Call(retry.CallArgs{
		Func: func() error {
			return c.post(ctx, body, bestUUID)
		},
		NotifyFunc: func(err error, attempt int) {
			c.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("uuid", bestUUID).
				Msg("upload to webserver failed, retrying indefinitely")
		},
		Attempts: -1,
		Delay:    c.retryInterval,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("upload %s abandoned on shutdown: %w", bestUUID, ctx.Err())
		}
		return fmt.Errorf("upload %s failed: %w", bestUUID, err)
	}

	return nil
}

func (c *UploadClient) post(ctx context.Context, body []byte, bestUUID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewUploadFailedError(0, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	c.log.Info().
		Int("status", resp.StatusCode).
		Str("uuid", bestUUID).
		Str("response", string(respBody)).
		Msg("webserver POST status")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewUploadFailedError(resp.StatusCode, fmt.Errorf("%s", respBody))
	}

	return nil
}

func numberOrString(value string) interface{} {
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}
