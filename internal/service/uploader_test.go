package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testReport() model.Report {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.NewReport("0b7d3a4e-1111-2222-3333-444455556666", started, started.Add(2*time.Second),
		map[string]model.ExecutionResult{
			"b": {Name: "b", Status: model.StatusTimeout, Timeout: true, ExitCode: -1, Elapsed: time.Second},
			"a": {Name: "a", Status: model.StatusFinished, Stdout: "hi", Elapsed: 10 * time.Millisecond, PID: 42},
		})
}

func TestWriteUploader(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		err := service.NewWriteUploader(&buf, model.FormatJSON).Upload(t.Context(), testReport())
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
		results := raw["results"].([]any)
		require.Len(t, results, 2)
		first := results[0].(map[string]any)
		require.Equal(t, "a", first["name"])
		require.Equal(t, "finished", first["status"])
		require.Equal(t, "execute", first["action"])
		require.Equal(t, 0.01, first["exec_time"])
		require.Equal(t, float64(0), first["returncode"])
		require.Equal(t, float64(42), first["pid"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		err := service.NewWriteUploader(&buf, model.FormatYAML).Upload(t.Context(), testReport())
		require.NoError(t, err)

		var raw struct {
			ID      string           `yaml:"id"`
			Results []map[string]any `yaml:"results"`
		}
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &raw))
		require.Equal(t, testReport().ID, raw.ID)
		require.Equal(t, "timeout", raw.Results[1]["status"])
		require.Equal(t, true, raw.Results[1]["timeout"])
	})

	t.Run("unknown format", func(t *testing.T) {
		err := service.NewWriteUploader(io.Discard, "xml").Upload(t.Context(), testReport())
		require.ErrorIs(t, err, model.ErrUnknownFormat)
	})
}

func TestOSRootUploader(t *testing.T) {
	t.Parallel()

	for _, compress := range []string{model.CompressNone, model.CompressZstd} {
		t.Run(compress, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			u, err := service.NewOSRootUploader(dir, model.FormatJSON, compress)
			require.NoError(t, err)

			report := testReport()
			require.NoError(t, u.Upload(t.Context(), report))
			require.NoError(t, u.Close())
			require.Error(t, u.Close())
			require.Error(t, u.Upload(t.Context(), report))

			name := u.FileName(report)
			require.True(t, strings.HasPrefix(name, "progexec-2025-03-01-12-00-02-0b7d3a4e.json"), name)
			require.Equal(t, compress == model.CompressZstd, strings.HasSuffix(name, ".zst"))

			f, err := os.Open(filepath.Join(dir, name))
			require.NoError(t, err)
			t.Cleanup(func() { _ = f.Close() })
			got, err := service.ReadReport(f, compress == model.CompressZstd)
			require.NoError(t, err)
			require.Equal(t, report.ID, got.ID)
			require.Len(t, got.Results, 2)
			require.Equal(t, "hi", got.Results[0].Stdout)
		})
	}

	t.Run("bad compress", func(t *testing.T) {
		_, err := service.NewOSRootUploader(t.TempDir(), model.FormatJSON, "gzip")
		require.Error(t, err)
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := service.NewOSRootUploader(filepath.Join(t.TempDir(), "missing"), model.FormatJSON, "")
		require.Error(t, err)
	})
}

func TestRepoUploader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/reports" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var report model.Report
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil || report.ID == "" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"invalid report"}`))
			return
		}
		if report.ID == "conflict" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"detail":"already stored"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"r-1"}`))
	}))
	t.Cleanup(srv.Close)

	u, err := service.NewRepoUploader(srv.URL)
	require.NoError(t, err)

	t.Run("created", func(t *testing.T) {
		require.NoError(t, u.Upload(t.Context(), testReport()))
	})

	t.Run("conflict", func(t *testing.T) {
		report := testReport()
		report.ID = "conflict"
		err := u.Upload(t.Context(), report)
		require.Error(t, err)
		require.Contains(t, err.Error(), "already stored")
	})

	t.Run("bad url", func(t *testing.T) {
		for _, url := range []string{"localhost", srv.URL + "/api"} {
			_, err := service.NewRepoUploader(url)
			require.Error(t, err, url)
		}
	})
}

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSUploader(t *testing.T) {
	t.Parallel()
	const queue = "https://sqs.eu-central-1.amazonaws.com/000000000000/reports"

	fake := &fakeSQS{}
	u := service.NewSQSUploaderWithClient(fake, queue)
	require.NoError(t, u.Upload(t.Context(), testReport()))
	require.Equal(t, queue, aws.ToString(fake.input.QueueUrl))

	got, err := model.DecodeReport(strings.NewReader(aws.ToString(fake.input.MessageBody)))
	require.NoError(t, err)
	require.Equal(t, testReport().ID, got.ID)

	fake.err = errors.New("throttled")
	require.ErrorIs(t, u.Upload(t.Context(), testReport()), fake.err)
}

func TestNATSUploader(t *testing.T) {
	t.Parallel()
	_, err := service.NewNATSUploader("nats://127.0.0.1:1", "reports")
	require.Error(t, err)

	_, err = service.NewNATSUploader("nats://127.0.0.1:4222", "")
	require.Error(t, err)
}
