package views

import (
	"context"

	"stable-action/models"
	"stable-action/services/transform"
)

// Controls is what the outer surfaces may do to a running pipeline.
type Controls interface {
	Status() models.PipelineStatus
	ToggleRecording(ctx context.Context) error
	SetMode(ctx context.Context, m transform.Mode) error
	ToggleMode(ctx context.Context) error
	SwitchCamera(ctx context.Context, variant string) error
	CycleCamera(ctx context.Context) error
	SetStabilizationHint(ctx context.Context, hint string) error
	ToggleStabilizationHint(ctx context.Context) error
	Preview(m transform.Mode) (*models.VideoFrame, bool)
	Constants() transform.Constants
}

// RecordingLister lists persisted recordings, newest first.
type RecordingLister interface {
	List(ctx context.Context, limit int) ([]models.Recording, error)
}
