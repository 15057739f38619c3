package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/config"
	"github.com/adverant/nexus/alpr-importer/internal/errors"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
)

// recorder answers with the queued status codes, then 200.
type recorder struct {
	mu       sync.Mutex
	statuses []int
	bodies   []map[string]interface{}
	ids      []string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	data, _ := io.ReadAll(req.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(data, &body)

	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.ids = append(r.ids, req.Header.Get("X-Request-ID"))
	status := http.StatusOK
	if len(r.statuses) > 0 {
		status, r.statuses = r.statuses[0], r.statuses[1:]
	}
	r.mu.Unlock()

	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (r *recorder) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

var testCameras = config.Cameras{
	"cam1": {ID: "101", Latitude: "41.1", Longitude: "-87.2"},
}

func newTestClient(c *qt.C, url string) *UploadClient {
	client, err := NewUploadClient(&UploadClientConfig{
		URL:           url,
		CompanyID:     "company-1",
		AgentUID:      "agent-1",
		Timeout:       2 * time.Second,
		RetryInterval: time.Millisecond,
		Cameras:       testCameras,
		Log:           zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)
	return client
}

func sampleResult() *processor.Result {
	return &processor.Result{
		Plates: &processor.PlateResponse{Results: []processor.PlateResult{{
			Plate:            "ABC123",
			Confidence:       92.1,
			Region:           "il",
			RegionConfidence: 71,
			Candidates: []processor.PlateCandidate{
				{Plate: "ABC123", Confidence: 92.1},
				{Plate: "A8C123", Confidence: 80.4},
			},
		}}},
		PlateCropJPEG: "cGxhdGU=",
	}
}

func TestUploadRetriesUntilSuccess(t *testing.T) {
	c := qt.New(t)
	rec := &recorder{statuses: []int{http.StatusInternalServerError, http.StatusInternalServerError}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	err := newTestClient(c, srv.URL).Upload(context.Background(), "cam1", 1500, sampleResult())
	c.Assert(err, qt.IsNil)
	c.Check(rec.attempts(), qt.Equals, 3)

	// every attempt carries its own request id
	c.Check(rec.ids[0], qt.Not(qt.Equals), "")
	c.Check(rec.ids[0], qt.Not(qt.Equals), rec.ids[1])
}

func TestUploadPayload(t *testing.T) {
	c := qt.New(t)
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	err := newTestClient(c, srv.URL).Upload(context.Background(), "cam1", 1500, sampleResult())
	c.Assert(err, qt.IsNil)
	c.Assert(rec.attempts(), qt.Equals, 1)

	body := rec.bodies[0]
	c.Check(body["company_id"], qt.Equals, "company-1")
	c.Check(body["agent_uid"], qt.Equals, "agent-1")
	c.Check(body["data_type"], qt.Equals, "alpr_group")
	c.Check(body["best_uuid"], qt.Equals, "agent-1-101-1500")
	c.Check(body["uuids"], qt.DeepEquals, []interface{}{"agent-1-101-1500"})
	c.Check(body["gps_latitude"], qt.Equals, 41.1)
	c.Check(body["gps_longitude"], qt.Equals, -87.2)
	c.Check(body["epoch_start"], qt.Equals, 1500.0)
	c.Check(body["epoch_end"], qt.Equals, 1500.0)
	c.Check(body["best_plate_number"], qt.Equals, "ABC123")
	c.Check(body["best_confidence"], qt.Equals, 92.1)
	c.Check(body["best_region"], qt.Equals, "il")
	c.Check(body["best_region_confidence"], qt.Equals, 71.0)
	c.Check(body["candidates"], qt.HasLen, 2)

	best := body["best_plate"].(map[string]interface{})
	c.Check(best["plate"], qt.Equals, "ABC123")
	c.Check(best["plate_crop_jpeg"], qt.Equals, "cGxhdGU=")

	_, hasVehicle := body["vehicle"]
	c.Check(hasVehicle, qt.IsFalse)
}

func TestPayloadKeepsCameraIDText(t *testing.T) {
	c := qt.New(t)
	client, err := NewUploadClient(&UploadClientConfig{
		URL:       "http://127.0.0.1:1",
		CompanyID: "company-1",
		AgentUID:  "agent-1",
		Cameras:   config.Cameras{"cam7": {ID: "007", Latitude: "41.1", Longitude: "-87.2"}},
		Log:       zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)

	payload, err := client.BuildPayload("cam7", 1500, sampleResult())
	c.Assert(err, qt.IsNil)
	c.Check(payload["best_uuid"], qt.Equals, "agent-1-007-1500")
	_, ok := payload["camera_id"]
	c.Check(ok, qt.IsFalse)
}

func TestUploadIncludesVehicle(t *testing.T) {
	c := qt.New(t)
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	result := sampleResult()
	result.Vehicle = &processor.VehicleAttributes{
		MakeModel: []processor.Classification{{Name: "ford_focus", Confidence: 55}},
	}
	result.VehicleCropJPEG = "dmVoaWNsZQ=="

	err := newTestClient(c, srv.URL).Upload(context.Background(), "cam1", 1500, result)
	c.Assert(err, qt.IsNil)

	body := rec.bodies[0]
	c.Check(body["vehicle_crop_jpeg"], qt.Equals, "dmVoaWNsZQ==")
	vehicle := body["vehicle"].(map[string]interface{})
	makeModel := vehicle["make_model"].([]interface{})
	c.Check(makeModel[0].(map[string]interface{})["name"], qt.Equals, "ford_focus")
}

func TestUploadUnknownCamera(t *testing.T) {
	c := qt.New(t)
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	err := newTestClient(c, srv.URL).Upload(context.Background(), "cam404", 1500, sampleResult())
	c.Check(errors.IsCode(err, errors.ErrorUnknownCamera), qt.IsTrue)
	c.Check(rec.attempts(), qt.Equals, 0)
}

func TestUploadStopsOnCancel(t *testing.T) {
	c := qt.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := newTestClient(c, srv.URL).Upload(ctx, "cam1", 1500, sampleResult())
	c.Assert(err, qt.ErrorMatches, `upload agent-1-101-1500 abandoned on shutdown: .*`)
}

func TestUploadCustomTemplate(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "group.template")
	c.Assert(os.WriteFile(path, []byte(`{"version": 2, "site": "north", "uuids": ["seed"]}`), 0o644), qt.IsNil)

	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	client, err := NewUploadClient(&UploadClientConfig{
		URL:           srv.URL,
		AgentUID:      "agent-1",
		Timeout:       time.Second,
		RetryInterval: time.Millisecond,
		TemplatePath:  path,
		Cameras:       testCameras,
		Log:           zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)

	c.Assert(client.Upload(context.Background(), "cam1", 99, sampleResult()), qt.IsNil)
	body := rec.bodies[0]
	c.Check(body["site"], qt.Equals, "north")
	c.Check(body["uuids"], qt.DeepEquals, []interface{}{"seed", "agent-1-101-99"})

	// the template itself is never mutated
	c.Assert(client.Upload(context.Background(), "cam1", 100, sampleResult()), qt.IsNil)
	c.Check(rec.bodies[1]["uuids"], qt.DeepEquals, []interface{}{"seed", "agent-1-101-100"})
}
