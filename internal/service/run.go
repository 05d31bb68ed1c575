package service

import (
	"context"

	"github.com/autocoder/progexec/internal/model"
)

// Run implements the CLI run command: the batch runs once and its report
// goes to the configured uploaders plus extra.
func Run(ctx context.Context, config model.Config, requests []model.ProgramRequest, extra ...model.Uploader) error {
	config.Service.Mode = model.ServiceModeManual
	supervisor, err := NewSupervisor(ctx, config, requests)
	if err != nil {
		return err
	}
	if len(extra) > 0 {
		supervisor.uploaders = append(supervisor.uploaders, extra...)
	}
	return supervisor.Do(ctx)
}
