package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"stable-action/models"
	"stable-action/services/fusion"
	"stable-action/services/ingest"
	"stable-action/utils"
)

// FusionController is the sensor domain. One goroutine consumes motion samples
// in arrival order and is the only writer of the integrator and the pose cell.
// Snapshot may be called from any goroutine.
type FusionController struct {
	integ   *fusion.Integrator
	cell    fusion.PoseCell
	updates chan models.Pose

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	samples uint64
}

func NewFusionController(p fusion.Params) *FusionController {
	return &FusionController{
		integ:   fusion.NewIntegrator(p),
		updates: make(chan models.Pose, 1),
	}
}

// Start launches the sensor goroutine. A missing motion device is logged and
// tolerated: the pose stays at identity and the pipeline keeps running.
func (fc *FusionController) Start(ctx context.Context, src ingest.MotionSource) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.cancel != nil {
		return errors.New("fusion controller already running")
	}

	if !src.Available() {
		utils.L().Warn("fusion: %v, pose stays at identity", models.ErrDeviceUnavailable)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	ch, err := src.Start(ctx)
	if err != nil {
		cancel()
		utils.L().Warn("fusion: motion source: %v, pose stays at identity", err)
		return nil
	}

	fc.cancel = cancel
	fc.done = make(chan struct{})
	go fc.run(ctx, ch, fc.done)

	utils.L().Info("fusion controller started")
	return nil
}

func (fc *FusionController) run(ctx context.Context, ch <-chan models.MotionSample, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			p := fc.integ.Step(s)
			fc.cell.Store(p)
			atomic.AddUint64(&fc.samples, 1)
			fc.notify(p)
		}
	}
}

// notify offers p to the overlay channel, replacing an unread value.
func (fc *FusionController) notify(p models.Pose) {
	select {
	case fc.updates <- p:
		return
	default:
	}
	select {
	case <-fc.updates:
	default:
	}
	select {
	case fc.updates <- p:
	default:
	}
}

// Snapshot returns the latest pose.
func (fc *FusionController) Snapshot() models.Pose { return fc.cell.Load() }

// Updates is a best-effort pose feed for overlays; it may skip values.
func (fc *FusionController) Updates() <-chan models.Pose { return fc.updates }

func (fc *FusionController) Samples() uint64 { return atomic.LoadUint64(&fc.samples) }

// Stop ends the sensor goroutine, then resets the filter and publishes the
// identity pose.
func (fc *FusionController) Stop() {
	fc.mu.Lock()
	cancel, done := fc.cancel, fc.done
	fc.cancel, fc.done = nil, nil
	fc.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	fc.integ.Reset()
	fc.cell.Store(models.IdentityPose())
	fc.notify(models.IdentityPose())
	utils.L().Info("fusion controller stopped (samples=%d)", fc.Samples())
}
