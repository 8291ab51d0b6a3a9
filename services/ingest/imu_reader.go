package ingest

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/utils"
)

// MotionSource delivers device-motion samples in arrival order.
type MotionSource interface {
	// Available reports whether the motion device is present.
	Available() bool
	Start(ctx context.Context) (<-chan models.MotionSample, error)
	Stats() (produced, dropped uint64)
}

// SimulatedMotion synthesises a handheld device-motion stream at the
// configured rate: gravity tilted by the sway roll plus the sway's
// acceleration with a little sensor noise.
type SimulatedMotion struct {
	cfg      utils.MotionConfig
	clock    *utils.Clock
	rng      *rand.Rand
	buf      int
	Out      chan models.MotionSample
	dropped  uint64
	produced uint64
}

func NewSimulatedMotion(cfg utils.MotionConfig, clock *utils.Clock) *SimulatedMotion {
	buf := cfg.ChannelBuffer
	if buf <= 0 {
		buf = 512
	}
	if cfg.UpdateRateHz <= 0 {
		cfg.UpdateRateHz = 120
	}
	return &SimulatedMotion{
		cfg:   cfg,
		clock: clock,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		buf:   buf,
	}
}

func (r *SimulatedMotion) Available() bool { return r.cfg.Enabled }

func (r *SimulatedMotion) Start(ctx context.Context) (<-chan models.MotionSample, error) {
	if !r.Available() {
		return nil, models.ErrDeviceUnavailable
	}
	r.Out = make(chan models.MotionSample, r.buf)
	go r.run(ctx)
	utils.L().Info("motion reader started  (rate=%dHz, buffer=%d, simulate=true)",
		r.cfg.UpdateRateHz, cap(r.Out))
	return r.Out, nil
}

func (r *SimulatedMotion) run(ctx context.Context) {
	defer close(r.Out)

	interval := time.Second / time.Duration(r.cfg.UpdateRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.L().Info("motion reader stopped  (produced=%d, dropped=%d)",
				atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped))
			return
		case <-ticker.C:
			s := r.read(r.clock.Now())

			select {
			case r.Out <- s:
				atomic.AddUint64(&r.produced, 1)
			default:
				atomic.AddUint64(&r.dropped, 1)
			}
		}
	}
}

func (r *SimulatedMotion) read(ts time.Duration) models.MotionSample {
	sw := swayAt(ts.Seconds())
	roll := sw.Roll + r.rng.NormFloat64()*0.002
	return models.MotionSample{
		Gravity: models.Vector3{X: math.Sin(roll), Y: -math.Cos(roll)},
		UserAcceleration: models.Vector3{
			X: sw.AX + r.rng.NormFloat64()*0.01,
			Y: sw.AY + r.rng.NormFloat64()*0.01,
			Z: r.rng.NormFloat64() * 0.01,
		},
		Timestamp: ts,
	}
}

func (r *SimulatedMotion) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped)
}
