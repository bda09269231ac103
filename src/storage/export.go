package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const defaultExportLimit = 10000

// exportRecord is one parquet row of a snapshot.
type exportRecord struct {
	ID      int64  `parquet:"name=id, type=INT64"`
	Symbol  string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date    string `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Message string `parquet:"name=message, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memFile is an in-memory parquet target.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile { return &memFile{buffer: &bytes.Buffer{}} }

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }

// Uploader is the subset of the S3 client used for snapshots.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Snapshot describes one written export.
type Snapshot struct {
	Path  string `json:"path"`
	Key   string `json:"key,omitempty"`
	Rows  int    `json:"rows"`
	Bytes int    `json:"bytes"`
}

// Exporter writes parquet snapshots of a sink's newest rows.
type Exporter struct {
	Config   models.MExportConfig
	Feed     string
	Sink     interfaces.ISink
	Uploader Uploader
	Logger   *logger.Logger
	now      func() time.Time
}

// -----------------------------------------------------------------------------

// NewExporter returns an exporter for feed. When an S3 bucket is configured
// the client is built from the default AWS credential chain.
func NewExporter(ctx context.Context, cfg models.MExportConfig, feed string, sink interfaces.ISink) (*Exporter, error) {
	e := &Exporter{
		Config: cfg,
		Feed:   feed,
		Sink:   sink,
		Logger: logger.NewLogger(nil, "Exporter"),
		now:    time.Now,
	}
	if cfg.S3Bucket == "" {
		return e, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	e.Uploader = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return e, nil
}

// -----------------------------------------------------------------------------

// Enabled reports whether a directory or bucket is configured.
func (e *Exporter) Enabled() bool {
	return e.Config.Dir != "" || e.Config.S3Bucket != ""
}

// -----------------------------------------------------------------------------

// Export writes the newest rows to a parquet file and, when configured,
// uploads it. An empty sink produces no snapshot.
func (e *Exporter) Export(ctx context.Context) (*Snapshot, error) {
	limit := e.Config.Limit
	if limit <= 0 {
		limit = defaultExportLimit
	}
	rows, err := e.Sink.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	data, err := e.encode(rows)
	if err != nil {
		return nil, err
	}

	ts := e.now().UTC()
	name := fmt.Sprintf("%s_%s_%d.parquet", unsafeName.ReplaceAllString(e.Feed, "_"), ts.Format("20060102T150405"), rows[len(rows)-1].ID)
	snap := &Snapshot{Rows: len(rows), Bytes: len(data)}

	if e.Config.Dir != "" {
		snap.Path, err = writeAtomic(e.Config.Dir, name, data)
		if err != nil {
			return nil, err
		}
	}

	if e.Uploader != nil && e.Config.S3Bucket != "" {
		snap.Key = path.Join(e.Config.S3Prefix, "feed="+e.Feed, "date="+ts.Format(time.DateOnly), uuid.NewString()+"_"+name)
		upCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		_, err := e.Uploader.PutObject(upCtx, &s3.PutObjectInput{
			Bucket:      aws.String(e.Config.S3Bucket),
			Key:         aws.String(snap.Key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
			Metadata: map[string]string{
				"content-type": "parquet",
				"compression":  e.compressionName(),
				"feed":         e.Feed,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("upload snapshot: %w", err)
		}
	}

	e.Logger.WithFields(logger.Fields{
		"feed": e.Feed, "rows": snap.Rows, "path": snap.Path, "key": snap.Key,
	}).Debug("Exported snapshot")
	return snap, nil
}

// -----------------------------------------------------------------------------

func (e *Exporter) compressionName() string {
	switch c := strings.ToLower(e.Config.Compression); c {
	case "snappy", "gzip":
		return c
	default:
		return "none"
	}
}

// -----------------------------------------------------------------------------

func (e *Exporter) encode(rows []models.MRecord) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(exportRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch e.compressionName() {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, r := range rows {
		rec := exportRecord{ID: r.ID, Symbol: r.Symbol, Date: r.Date, Message: string(r.Message)}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.buffer.Bytes(), nil
}

// -----------------------------------------------------------------------------

func writeAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}
