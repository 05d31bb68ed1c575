package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/autocoder/progexec/internal/model"
)

const (
	uploadPath  = "api/v1/reports"
	contentType = "application/json"
)

// RepoUploader posts reports to a report repository.
type RepoUploader struct {
	requestURL *url.URL
	client     *http.Client
}

func NewRepoUploader(serverURL string) (*RepoUploader, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}

	parsedURL.Path = uploadPath

	c := &RepoUploader{
		requestURL: parsedURL,
		client:     &http.Client{},
	}

	return c, nil
}

func (c *RepoUploader) Upload(ctx context.Context, report model.Report) error {
	raw, err := encodeJSON(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	createResp, err := c.decodeUploadResponse(resp)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "report uploaded successfully.",
		slog.String("id", createResp.ID),
		slog.String("batch", report.ID))

	return nil
}

type ReportCreateResponse struct {
	ID string `json:"id"`
}

func (c *RepoUploader) decodeUploadResponse(resp *http.Response) (ReportCreateResponse, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return ReportCreateResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if contentType != "application/json" {
			return ReportCreateResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var rc ReportCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
			return ReportCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if rc.ID == "" {
			return ReportCreateResponse{}, errors.New("received unexpected body")
		}
		return rc, nil

	case http.StatusBadRequest, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType != "application/problem+json" {
			return ReportCreateResponse{}, fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
		}
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return ReportCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return ReportCreateResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ReportCreateResponse{}, err
	}
	return ReportCreateResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
