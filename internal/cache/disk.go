package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// compressThreshold is the serialized size above which disk records are
// stored gzip-compressed inside a self-describing envelope.
const compressThreshold = 10 * 1024

// diskRecord is the on-disk representation of a cache entry.
type diskRecord struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	TTLMs     int64     `json:"ttl_ms"`
}

// compressedEnvelope wraps a gzip-compressed record.
type compressedEnvelope struct {
	Compressed bool   `json:"compressed"`
	Data       string `json:"data"`
	Timestamp  string `json:"timestamp"`
}

// diskTier stores one file per entry under <root>/<type>/<hash(key)>.
type diskTier struct {
	root string
}

func newDiskTier(root string) *diskTier {
	return &diskTier{root: root}
}

func (d *diskTier) path(cacheType, hashedKey string) string {
	return filepath.Join(d.root, cacheType, hashedKey)
}

// Get reads an entry from disk. Corrupt files yield an error so that the
// caller can treat them as misses; maintenance deletes them.
func (d *diskTier) Get(ctx context.Context, cacheType, hashedKey string) (*Entry, error) {
	data, err := os.ReadFile(d.path(cacheType, hashedKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	rec, err := decodeDiskRecord(data)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Key:       rec.Key,
		Value:     rec.Value,
		CreatedAt: rec.CreatedAt,
		TTL:       time.Duration(rec.TTLMs) * time.Millisecond,
		Size:      int64(len(rec.Value)),
	}, nil
}

// Set writes an entry synchronously. Values whose serialized form exceeds
// the threshold are gzip-compressed inside the envelope.
func (d *diskTier) Set(ctx context.Context, cacheType, hashedKey string, entry *Entry) error {
	dir := filepath.Join(d.root, cacheType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	rec := diskRecord{
		Key:       entry.Key,
		Value:     entry.Value,
		CreatedAt: entry.CreatedAt,
		TTLMs:     entry.TTL.Milliseconds(),
	}
	plain, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}

	out := plain
	if len(plain) > compressThreshold {
		out, err = encodeEnvelope(plain)
		if err != nil {
			return fmt.Errorf("compress cache record: %w", err)
		}
	}

	return os.WriteFile(d.path(cacheType, hashedKey), out, 0o644)
}

func (d *diskTier) Delete(ctx context.Context, cacheType, hashedKey string) error {
	err := os.Remove(d.path(cacheType, hashedKey))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *diskTier) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(d.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Maintenance walks the tier and deletes expired or corrupt files.
func (d *diskTier) Maintenance(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()

	typeDirs, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	for _, typeDir := range typeDirs {
		if !typeDir.IsDir() {
			continue
		}
		dir := filepath.Join(d.root, typeDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if ctx.Err() != nil {
				return removed, ctx.Err()
			}
			path := filepath.Join(dir, f.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			rec, err := decodeDiskRecord(data)
			if err != nil || now.After(rec.CreatedAt.Add(time.Duration(rec.TTLMs)*time.Millisecond)) {
				if os.Remove(path) == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

func (d *diskTier) Close() error { return nil }

func encodeEnvelope(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(plain); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return json.Marshal(compressedEnvelope{
		Compressed: true,
		Data:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeDiskRecord(data []byte) (*diskRecord, error) {
	var env compressedEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Compressed {
		compressed, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		gz, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		data, err = io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}

	var rec diskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse cache record: %w", err)
	}
	if rec.Key == "" && len(rec.Value) == 0 {
		return nil, fmt.Errorf("empty cache record")
	}
	return &rec, nil
}
