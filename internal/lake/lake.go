// Package lake implements the Block Data Source (spec §4.3): fetching raw
// blocks from a content-addressed object store keyed by zero-padded
// 12-digit block heights. Grounded on
// original_source/block-streamer/src/delta_lake_client.rs's
// get_nearest_block_date retry loop, adapted from the Rust NoSuchKey probe
// to aws-sdk-go-v2's s3.NoSuchKey, and on the S3 usage pattern observed in
// other_examples/manifests/containerman17-l1-data-tools.
package lake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chainindex/coordinator/internal/errs"
)

// maxRetryCount is the number of consecutive missing heights the source
// will step past before giving up (spec §4.3: "retry on NoSuchKey up to 20
// attempts").
const maxRetryCount = 20

// ObjectStore is the subset of the S3 API this source needs, narrowed for
// testability.
type ObjectStore interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source fetches raw block JSON from a per-network S3 bucket.
type Source struct {
	Store  ObjectStore
	Bucket string
}

// New wires a Source against a live S3 client for the given network bucket.
func New(store ObjectStore, bucket string) *Source {
	return &Source{Store: store, Bucket: bucket}
}

func blockKey(height uint64) string {
	return fmt.Sprintf("%012d/block.json", height)
}

// GetText fetches the object at height, retrying on NoSuchKey by stepping to
// the next height (blocks are not dense across forks and pruning). Returns
// the text and the height it was actually found at.
func (s *Source) GetText(ctx context.Context, height uint64) (string, uint64, error) {
	current := height
	for attempt := 0; attempt < maxRetryCount; attempt++ {
		out, err := s.Store.GetObject(ctx, objectInput(s.Bucket, blockKey(current)))
		if err == nil {
			defer out.Body.Close()
			body, readErr := readAll(out.Body)
			if readErr != nil {
				return "", 0, fmt.Errorf("read block body at height %d: %w", current, readErr)
			}
			return string(body), current, nil
		}

		var noSuchKey *types.NoSuchKey
		if !errors.As(err, &noSuchKey) {
			return "", 0, fmt.Errorf("fetch block at height %d: %w", current, err)
		}
		current++
	}
	return "", 0, fmt.Errorf("height %d: %w", height, errs.BlockNotFound)
}

// blockHeader is the subset of block.json this source parses.
type blockHeader struct {
	Header struct {
		TimestampNanosec uint64 `json:"timestamp_nanosec"`
	} `json:"header"`
}

// GetNearestBlockDate locates the first existing block at or after height
// and returns its header timestamp's UTC calendar date.
func (s *Source) GetNearestBlockDate(ctx context.Context, height uint64) (time.Time, error) {
	text, _, err := s.GetText(ctx, height)
	if err != nil {
		return time.Time{}, err
	}

	var block blockHeader
	if err := json.Unmarshal([]byte(text), &block); err != nil {
		return time.Time{}, fmt.Errorf("parse block header at height %d: %w", height, err)
	}

	ts := time.Unix(0, int64(block.Header.TimestampNanosec)).UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
}

func objectInput(bucket, key string) *s3.GetObjectInput {
	return &s3.GetObjectInput{Bucket: &bucket, Key: &key}
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
