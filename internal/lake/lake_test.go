package lake

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/chainindex/coordinator/internal/errs"
)

type fakeStore struct {
	objects map[string]string // key -> body
}

func (f *fakeStore) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestGetTextFindsExistingBlock(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		"000000000100/block.json": `{"header":{"timestamp_nanosec":1700000000000000000}}`,
	}}
	src := New(store, "near-lake-data-mainnet")

	text, height, err := src.GetText(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 100 {
		t.Errorf("height = %d, want 100", height)
	}
	if !strings.Contains(text, "timestamp_nanosec") {
		t.Errorf("unexpected body: %s", text)
	}
}

func TestGetTextStepsPastMissingHeights(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		"000000000103/block.json": `{"header":{"timestamp_nanosec":1}}`,
	}}
	src := New(store, "near-lake-data-mainnet")

	_, height, err := src.GetText(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 103 {
		t.Errorf("height = %d, want 103 (first existing height at or after 100)", height)
	}
}

func TestGetTextFailsAfterTwentyMisses(t *testing.T) {
	src := New(&fakeStore{objects: map[string]string{}}, "near-lake-data-mainnet")

	_, _, err := src.GetText(context.Background(), 100)
	if !errors.Is(err, errs.BlockNotFound) {
		t.Fatalf("expected errs.BlockNotFound, got %v", err)
	}
}

func TestGetNearestBlockDate(t *testing.T) {
	store := &fakeStore{objects: map[string]string{
		// 2023-11-14T22:13:20Z in nanoseconds.
		"000000000050/block.json": `{"header":{"timestamp_nanosec":1700000000000000000}}`,
	}}
	src := New(store, "near-lake-data-mainnet")

	date, err := src.GetNearestBlockDate(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if date.Hour() != 0 || date.Minute() != 0 {
		t.Errorf("expected date to be truncated to midnight UTC, got %v", date)
	}
	if date.Year() != 2023 {
		t.Errorf("expected year 2023, got %d", date.Year())
	}
}
