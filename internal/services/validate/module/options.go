package module

import (
	"nutrisage/internal/platform/config"
	"nutrisage/internal/platform/validate"
	"nutrisage/internal/services/validate/domain"
	"nutrisage/internal/services/validate/report"
)

// Options holds configuration options for a validation pass
type Options struct {
	ProcessedSink string `flag:"processed-sink" validate:"required,location"`
	Summary       string `flag:"summary" validate:"omitempty,location"`
	RunID         string `flag:"run-id" validate:"omitempty,max=128,excludesall=/"`
	Format        string `flag:"format" validate:"oneof=text json"`
	Out           string `flag:"out" validate:"omitempty,location"`
	Workers       int    `flag:"workers" validate:"min=1,max=256"`
}

// FromConfig reads options with the NUTRISAGE_ prefix; the processed sink is shared with ingest
func FromConfig(cfg config.Conf) Options {
	root := cfg.Prefix("NUTRISAGE_")
	v := root.Prefix("VALIDATE_")
	return Options{
		ProcessedSink: root.MayString("PROCESSED_SINK", "data/processed"),
		Summary:       v.MayString("SUMMARY", ""),
		RunID:         v.MayString("RUN_ID", ""),
		Format:        v.MayEnum("FORMAT", report.FormatText, report.FormatText, report.FormatJSON),
		Out:           v.MayString("OUT", ""),
		Workers:       v.MayInt("WORKERS", 4),
	}
}

// Validate checks the options and names the offending flag on failure
func (o Options) Validate() error { return validate.Struct(o) }

// Request projects the options onto a validator request
func (o Options) Request() domain.Request {
	return domain.Request{
		ProcessedSink: o.ProcessedSink,
		RunID:         o.RunID,
		Summary:       o.Summary,
		Workers:       o.Workers,
	}
}
