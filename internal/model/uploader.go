package model

import "context"

// Uploader publishes a finished batch report.
type Uploader interface {
	Upload(ctx context.Context, report Report) error
}

// UploadCloser is an Uploader holding resources (connections, open
// directories) that must be released on shutdown.
type UploadCloser interface {
	Uploader
	Close() error
}
