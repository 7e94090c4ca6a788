package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tinyblog/blog/types"
)

const snapshotContentType = "application/json"

// PostLister supplies the posts to export.
type PostLister interface {
	List(ctx context.Context) ([]types.Post, error)
}

// Snapshot is the document written by Exporter.
type Snapshot struct {
	ExportedAt time.Time    `json:"exported_at"`
	Count      int          `json:"count"`
	Posts      []types.Post `json:"posts"`
}

// ExportResult describes a written snapshot.
type ExportResult struct {
	Bucket string
	Key    string
	Count  int
	Bytes  int
}

// Exporter writes every post, newest first, as one JSON object.
type Exporter struct {
	posts   PostLister
	objects ObjectStorage
	prefix  string
	now     func() time.Time
}

func NewExporter(posts PostLister, objects ObjectStorage, prefix string) *Exporter {
	return &Exporter{
		posts:   posts,
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		now:     time.Now,
	}
}

func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	posts, err := e.posts.List(ctx)
	if err != nil {
		return ExportResult{}, fmt.Errorf("list posts: %w", err)
	}

	exportedAt := e.now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Snapshot{ExportedAt: exportedAt, Count: len(posts), Posts: posts}); err != nil {
		return ExportResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := e.objects.EnsureBucket(ctx); err != nil {
		return ExportResult{}, err
	}

	key := e.key(exportedAt)
	size := buf.Len()
	if err := e.objects.Put(ctx, key, &buf, int64(size), snapshotContentType); err != nil {
		return ExportResult{}, err
	}

	return ExportResult{
		Bucket: e.objects.Bucket(),
		Key:    key,
		Count:  len(posts),
		Bytes:  size,
	}, nil
}

func (e *Exporter) key(at time.Time) string {
	name := "posts-" + at.Format("20060102T150405Z") + ".json"
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}
