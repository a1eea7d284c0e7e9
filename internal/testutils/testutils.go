//go:build integration

// Package testutils provides shared infrastructure for integration tests:
// a MinIO bucket in a container and an HTTP server for media sources.
package testutils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

// MediaData returns size bytes of deterministic content.
func MediaData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/4096)
	}
	return data
}

// SourceFile is a file served by StartSourceServer.
type SourceFile struct {
	Name        string
	ContentType string
	Data        []byte
	ModTime     time.Time
}

// StartSourceServer serves files by name with HEAD, ETag and Range support.
// The server is closed when the test ends.
func StartSourceServer(t *testing.T, files ...SourceFile) *httptest.Server {
	t.Helper()

	byPath := make(map[string]SourceFile, len(files))
	for _, f := range files {
		if f.ModTime.IsZero() {
			f.ModTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		byPath["/"+f.Name] = f
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := byPath[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if f.ContentType != "" {
			w.Header().Set("Content-Type", f.ContentType)
		}
		w.Header().Set("ETag", fmt.Sprintf(`"%x-%d"`, f.ModTime.Unix(), len(f.Data)))
		http.ServeContent(w, r, f.Name, f.ModTime, bytes.NewReader(f.Data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Minio is a MinIO server running in a container.
type Minio struct {
	Container testcontainers.Container
	BucketURL string
	Endpoint  string
}

// OpenBucket opens the test bucket.
func (m *Minio) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, m.BucketURL)
}

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// StartMinio starts MinIO with an empty bucket named bucketName. The
// container is terminated when the test ends. The s3blob driver must be
// linked by the caller.
func StartMinio(t *testing.T, ctx context.Context, bucketName string) *Minio {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate minio container: %v", err)
		}
	})

	// The server image ships the mc client.
	for _, cmd := range [][]string{
		{"mc", "alias", "set", "local", "http://127.0.0.1:9000", minioUser, minioPassword},
		{"mc", "mb", "--ignore-existing", "local/" + bucketName},
	} {
		code, out, err := container.Exec(ctx, cmd)
		if err != nil {
			t.Fatalf("exec %v: %v", cmd, err)
		}
		if code != 0 {
			output, _ := io.ReadAll(out)
			t.Fatalf("exec %v: exit code %d: %s", cmd, code, output)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// s3blob reads credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &Minio{
		Container: container,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint: endpoint,
	}
}

// RequireBody reads r to the end and fails the test unless it yields want.
// Mismatches are reported by offset instead of dumping the data.
func RequireBody(t *testing.T, r io.Reader, want []byte) {
	t.Helper()

	buf := make([]byte, 256*1024)
	var offset int
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if offset+n > len(want) {
				t.Fatalf("body longer than %d bytes", len(want))
			}
			if i := firstDiff(buf[:n], want[offset:offset+n]); i >= 0 {
				t.Fatalf("body differs at offset %d", offset+i)
			}
			offset += n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read body at offset %d: %v", offset, err)
		}
	}
	if offset != len(want) {
		t.Fatalf("body ended at %d bytes, want %d", offset, len(want))
	}
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
