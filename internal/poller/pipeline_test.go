package poller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"

	"github.com/adverant/nexus/alpr-importer/internal/clients"
	"github.com/adverant/nexus/alpr-importer/internal/config"
	"github.com/adverant/nexus/alpr-importer/internal/cursor"
	"github.com/adverant/nexus/alpr-importer/internal/images"
	"github.com/adverant/nexus/alpr-importer/internal/processor"
	"github.com/adverant/nexus/alpr-importer/internal/queue"
	"github.com/adverant/nexus/alpr-importer/internal/storage"
)

type onePlate struct{}

func (onePlate) RecognizeFile(context.Context, string) (*processor.PlateResponse, error) {
	return &processor.PlateResponse{Results: []processor.PlateResult{{
		Plate:      "ABC123",
		Confidence: 92.1,
		Candidates: []processor.PlateCandidate{{Plate: "ABC123", Confidence: 92.1}},
	}}}, nil
}

func (onePlate) Close() error { return nil }

// countingQueue counts jobs on their way into the pool.
type countingQueue struct {
	pool *queue.Pool
	n    atomic.Int32
	mu   sync.Mutex
	jobs []processor.Job
}

func (q *countingQueue) Process(ctx context.Context, job *processor.Job) error {
	q.n.Add(1)
	q.mu.Lock()
	q.jobs = append(q.jobs, *job)
	q.mu.Unlock()
	return q.pool.Process(ctx, job)
}

func TestPipelineEndToEnd(t *testing.T) {
	c := qt.New(t)

	var mu sync.Mutex
	var posts []map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		c.Check(json.Unmarshal(data, &body), qt.IsNil)
		mu.Lock()
		posts = append(posts, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	uploads := func() []map[string]interface{} {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]interface{}(nil), posts...)
	}

	// reads database: one read at t=1500 with both images on disk
	dbPath := filepath.Join(c.TempDir(), "reads.db")
	db := writeReadsDB(c, dbPath)
	_, err := db.Exec(`INSERT INTO reads VALUES (7, 'ABC123', 'cam1', ?, NULL, NULL)`, time.UnixMilli(1500).UTC())
	c.Assert(err, qt.IsNil)
	_, err = db.Exec(`INSERT INTO images VALUES ('70', 7, NULL, NULL, 1), ('71', 7, NULL, NULL, 2)`)
	c.Assert(err, qt.IsNil)

	imageRoot := c.TempDir()
	writeJPEG(c, filepath.Join(imageRoot, "70"), 320, 240)
	writeJPEG(c, filepath.Join(imageRoot, "71"), 160, 60)

	uploader, err := clients.NewUploadClient(&clients.UploadClientConfig{
		URL:           srv.URL,
		CompanyID:     "company-1",
		AgentUID:      "agent-1",
		Timeout:       2 * time.Second,
		RetryInterval: time.Millisecond,
		Cameras:       config.Cameras{"cam1": {ID: "101", Latitude: "41.1", Longitude: "-87.2"}},
		Log:           zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)

	pool, err := queue.NewPool(&queue.PoolConfig{
		Workers:      2,
		Factory:      func() (*processor.Engine, error) { return &processor.Engine{Plates: onePlate{}}, nil },
		Uploader:     uploader,
		IdleInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(pool.Start(), qt.IsNil)

	cur, statePath := loadAt(c, 1000)
	q := &countingQueue{pool: pool}
	p, err := New(&Config{
		Connect:      StoreConnector(storage.ConnectionConfig{Driver: "sqlite3", Database: dbPath}),
		Resolver:     images.NewResolver(imageRoot, zerolog.Nop()),
		Cursor:       cur,
		Queue:        q,
		IdleInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(c, func() bool { return len(uploads()) == 1 })
	// a few idle polls must not claim the read again
	time.Sleep(50 * time.Millisecond)
	cancel()
	c.Assert(<-done, qt.IsNil)
	pool.Stop()

	c.Check(q.n.Load(), qt.Equals, int32(1))
	c.Check(q.jobs[0].EpochTimeMs, qt.Equals, int64(1500))
	c.Check(q.jobs[0].ReadID, qt.Equals, "7")
	c.Check(cursor.Load(statePath, nil).State().LastParse, qt.Equals, int64(1500))

	got := uploads()
	c.Assert(got, qt.HasLen, 1)
	c.Check(got[0]["best_plate_number"], qt.Equals, "ABC123")
	c.Check(got[0]["best_uuid"], qt.Equals, "agent-1-101-1500")
	c.Check(pool.Stats().Uploaded, qt.Equals, int64(1))
}
