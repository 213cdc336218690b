package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// tailStore serves block.json bodies from a map and returns NoSuchKey for
// anything absent, or a wrapped sentinel for keys listed in failKeys.
type tailStore struct {
	objects  map[string]string
	failKeys map[string]error
}

func (f *tailStore) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err, ok := f.failKeys[*params.Key]; ok {
		return nil, err
	}
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func blockBody(height uint64) string {
	return fmt.Sprintf(`{"header":{"height":%d,"hash":"h%d","chunks_included":0}}`, height, height)
}

func TestTailDeliversBlocksSequentially(t *testing.T) {
	store := &tailStore{objects: map[string]string{
		"000000000100/block.json": blockBody(100),
		"000000000101/block.json": blockBody(101),
	}}
	src := New(store, "near-lake-data-mainnet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, errCh := src.Tail(ctx, 100)

	for _, want := range []uint64{100, 101} {
		select {
		case block, ok := <-blocks:
			if !ok {
				t.Fatalf("blocks channel closed early, want height %d", want)
			}
			if block.Height != want {
				t.Errorf("height = %d, want %d", block.Height, want)
			}
		case err := <-errCh:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for height %d", want)
		}
	}

	cancel()
	select {
	case _, ok := <-blocks:
		if ok {
			t.Fatalf("expected no more blocks past height 101 before poll interval elapses")
		}
	case <-time.After(time.Second):
	}
}

func TestTailPropagatesNonNotFoundErrors(t *testing.T) {
	boom := errors.New("boom")
	store := &tailStore{
		objects:  map[string]string{},
		failKeys: map[string]error{"000000000100/block.json": boom},
	}
	src := New(store, "near-lake-data-mainnet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, errCh := src.Tail(ctx, 100)

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected wrapped boom error, got %v", err)
		}
	case <-blocks:
		t.Fatal("expected an error, not a block")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error")
	}

	if _, ok := <-blocks; ok {
		t.Fatal("expected blocks channel to be closed after a fatal error")
	}
}

func TestTailStopsOnContextCancellation(t *testing.T) {
	src := New(&tailStore{objects: map[string]string{}}, "near-lake-data-mainnet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocks, errCh := src.Tail(ctx, 100)

	select {
	case _, ok := <-blocks:
		if ok {
			t.Fatal("expected blocks channel to close without delivering anything")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blocks channel to close")
	}
	select {
	case _, ok := <-errCh:
		if ok {
			t.Fatal("expected errCh to close without delivering anything")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for errCh to close")
	}
}
