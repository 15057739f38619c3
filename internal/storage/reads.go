/**
 * Reads source for the ALPR import worker
 *
 * Polls the camera vendor's database for plate reads and their image
 * records. The vendor ships SQL Server; PostgreSQL and SQLite share the
 * same two-table shape and are used for replicas and local replay.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// Image type discriminators in the images table
const (
	OverviewImageType = 1
	CropImageType     = 2
)

// Authentication modes for the source database
const (
	AuthSQL  = "sql"
	AuthNTLM = "ntlm"
)

// ReadEvent is one plate read row
type ReadEvent struct {
	ReadID    string
	Plate     string
	Camera    string
	ReadDate  time.Time
	Latitude  sql.NullFloat64
	Longitude sql.NullFloat64
}

// ImageRecord is one image row attached to a read
type ImageRecord struct {
	ImageID        string
	CreateDate     sql.NullTime
	ReadDate       sql.NullTime
	PlateImageType int
}

// ConnectionConfig describes how to reach the source database
type ConnectionConfig struct {
	Driver   string
	Server   string
	Port     int
	User     string
	Password string
	Database string
}

// AuthMode selects NTLM when the user name carries a domain (DOMAIN\user).
func AuthMode(user string) string {
	if strings.Contains(user, `\`) {
		return AuthNTLM
	}
	return AuthSQL
}

type dialect struct {
	driver      string
	readsQuery  string
	imagesQuery string
	// readsArgs orders (limit, since) for the placeholders of readsQuery
	readsArgs func(since time.Time, limit int) []interface{}
}

var dialects = map[string]dialect{
	"sqlserver": {
		driver: "sqlserver",
		readsQuery: `SELECT TOP (@p1) read_id, plate, camera, read_date, lat, lon
			FROM reads WHERE read_date > @p2 ORDER BY read_date ASC`,
		imagesQuery: `SELECT image_id, create_date, read_date, plate_image_type
			FROM images WHERE read_id = @p1`,
		readsArgs: func(since time.Time, limit int) []interface{} {
			return []interface{}{limit, since}
		},
	},
	"postgres": {
		driver: "postgres",
		readsQuery: `SELECT read_id, plate, camera, read_date, lat, lon
			FROM reads WHERE read_date > $1 ORDER BY read_date ASC LIMIT $2`,
		imagesQuery: `SELECT image_id, create_date, read_date, plate_image_type
			FROM images WHERE read_id = $1`,
		readsArgs: func(since time.Time, limit int) []interface{} {
			return []interface{}{since, limit}
		},
	},
	"sqlite3": {
		driver: "sqlite3",
		readsQuery: `SELECT read_id, plate, camera, read_date, lat, lon
			FROM reads WHERE read_date > ? ORDER BY read_date ASC LIMIT ?`,
		imagesQuery: `SELECT image_id, create_date, read_date, plate_image_type
			FROM images WHERE read_id = ?`,
		readsArgs: func(since time.Time, limit int) []interface{} {
			return []interface{}{since, limit}
		},
	},
}

// DSN builds the driver connection string for cfg.
func DSN(cfg ConnectionConfig) (string, error) {
	hostPort := net.JoinHostPort(cfg.Server, strconv.Itoa(cfg.Port))

	switch cfg.Driver {
	case "sqlserver":
		query := url.Values{}
		query.Set("database", cfg.Database)
		if AuthMode(cfg.User) == AuthNTLM {
			query.Set("authenticator", "ntlm")
		}
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     hostPort,
			RawQuery: query.Encode(),
		}
		return u.String(), nil

	case "postgres":
		u := &url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     hostPort,
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil

	case "sqlite3":
		// database_name is the file path; server and credentials are unused
		return cfg.Database, nil
	}

	return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// SQLStore handles queries against the reads database
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database described by cfg and verifies the connection.
func Open(ctx context.Context, cfg ConnectionConfig) (*SQLStore, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One poller goroutine issues all queries
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store := &SQLStore{db: db, dialect: d}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := store.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return store, nil
}

// NewSQLStore wraps an existing handle. driver selects the query dialect.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return &SQLStore{db: db, dialect: d}, nil
}

// FetchReads returns up to limit reads newer than since, oldest first.
func (s *SQLStore) FetchReads(ctx context.Context, since time.Time, limit int) ([]ReadEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.readsQuery, s.dialect.readsArgs(since, limit)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reads since %s: %w", since.Format(time.RFC3339Nano), err)
	}
	defer rows.Close()

	var reads []ReadEvent
	for rows.Next() {
		var r ReadEvent
		if err := rows.Scan(&r.ReadID, &r.Plate, &r.Camera, &r.ReadDate, &r.Latitude, &r.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan read: %w", err)
		}
		r.ReadDate = r.ReadDate.UTC()
		reads = append(reads, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reads: %w", err)
	}

	return reads, nil
}

// FetchImages returns every image record attached to readID.
func (s *SQLStore) FetchImages(ctx context.Context, readID string) ([]ImageRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.imagesQuery, readID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images for read %s: %w", readID, err)
	}
	defer rows.Close()

	var images []ImageRecord
	for rows.Next() {
		var img ImageRecord
		if err := rows.Scan(&img.ImageID, &img.CreateDate, &img.ReadDate, &img.PlateImageType); err != nil {
			return nil, fmt.Errorf("failed to scan image for read %s: %w", readID, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate images for read %s: %w", readID, err)
	}

	return images, nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (s *SQLStore) GetStats() sql.DBStats {
	return s.db.Stats()
}
