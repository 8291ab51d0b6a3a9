package transform

import "stable-action/models"

// Smoother is the per-frame IIR stage applied on top of the fused pose.
// It belongs to the capture goroutine. Its state survives mode toggles.
type Smoother struct {
	rollAlpha  float64
	transAlpha float64

	state models.Pose
}

func NewSmoother(c Constants) *Smoother {
	return &Smoother{rollAlpha: c.RollAlpha, transAlpha: c.TranslationAlpha}
}

// Update blends raw into the running state and returns the smoothed pose.
// The state starts at the identity pose.
func (s *Smoother) Update(raw models.Pose) models.Pose {
	s.state.Roll += s.rollAlpha * (raw.Roll - s.state.Roll)
	s.state.OffsetX += s.transAlpha * (raw.OffsetX - s.state.OffsetX)
	s.state.OffsetY += s.transAlpha * (raw.OffsetY - s.state.OffsetY)
	return s.state
}

func (s *Smoother) Current() models.Pose { return s.state }

func (s *Smoother) Reset() {
	s.state = models.IdentityPose()
}
