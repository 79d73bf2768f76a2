package repository

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/scalebridge/pkg/storage"
	"github.com/marmos91/scalebridge/pkg/storage/repository/repotest"
)

func TestMemoryConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) storage.Repository {
		repo := NewMemory("memory")
		if err := repo.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		return repo
	})
}

func TestRelationalConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) storage.Repository {
		repo := NewRelational("relational", RelationalConfig{
			Driver: "sqlite",
			Path:   ":memory:",
		})
		if err := repo.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { repo.Disconnect(context.Background()) })
		return repo
	})
}

func TestTimeSeriesConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) storage.Repository {
		repo := NewTimeSeries("time_series", TimeSeriesConfig{})
		if err := repo.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { repo.Disconnect(context.Background()) })
		return repo
	})
}

// fakeS3 records puts in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, io.ErrUnexpectedEOF
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(in.Body); err != nil {
		return nil, err
	}
	f.objects[*in.Key] = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, io.ErrUnexpectedEOF
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestArchiveConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) storage.Repository {
		return NewArchiveWithClient("archive", ArchiveConfig{Bucket: "readings"}, newFakeS3())
	})
}

func TestArchiveObjectKeyLayout(t *testing.T) {
	fake := newFakeS3()
	repo := NewArchiveWithClient("archive", ArchiveConfig{Bucket: "readings", Prefix: "plant-a"}, fake)

	r := storage.NewReading("dev-1", "bench-scale", 10, "kg")
	if err := repo.Write(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(fake.objects))
	}
	for key := range fake.objects {
		if !strings.HasPrefix(key, "plant-a/readings/discrete_reading/") {
			t.Errorf("key = %q, want plant-a/readings/discrete_reading/ prefix", key)
		}
		if !strings.HasSuffix(key, r.ID+".json") {
			t.Errorf("key = %q, want %s.json suffix", key, r.ID)
		}
	}
}

func TestArchiveBatchStopsOnFailure(t *testing.T) {
	fake := newFakeS3()
	repo := NewArchiveWithClient("archive", ArchiveConfig{Bucket: "readings"}, fake)

	batch := []*storage.Reading{
		storage.NewReading("dev-1", "bench-scale", 1, "kg"),
		storage.NewReading("dev-1", "bench-scale", 2, "kg"),
	}
	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()

	n, err := repo.WriteBatch(context.Background(), batch)
	if err == nil {
		t.Fatal("expected failure")
	}
	if n != 0 {
		t.Errorf("written = %d, want 0", n)
	}
}

func TestTimeSeriesReadRange(t *testing.T) {
	repo := NewTimeSeries("time_series", TimeSeriesConfig{})
	if err := repo.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Disconnect(context.Background()) })

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := storage.NewReading("dev-1", "6051-module", float64(i), "kg")
		r.Timestamp = base.Add(time.Duration(i) * time.Second)
		if err := repo.Write(context.Background(), r); err != nil {
			t.Fatal(err)
		}
	}
	other := storage.NewReading("dev-2", "6051-module", 99, "kg")
	other.Timestamp = base
	if err := repo.Write(context.Background(), other); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ReadRange(context.Background(), "dev-1", base.Add(time.Second), base.Add(4*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("readings = %d, want 3", len(got))
	}
	for i, r := range got {
		if want := float64(i + 1); r.Value != want {
			t.Errorf("reading %d value = %.0f, want %.0f", i, r.Value, want)
		}
		if r.DeviceID != "dev-1" {
			t.Errorf("reading %d device = %s", i, r.DeviceID)
		}
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	repo := NewMemory("memory")
	if err := repo.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	repo.SetFailing(true)

	if err := repo.Write(context.Background(), storage.NewReading("d", "scale", 1, "kg")); err == nil {
		t.Fatal("expected injected failure")
	}
	if repo.Health(context.Background()).Eligible() {
		t.Error("failing backend still eligible")
	}
}
