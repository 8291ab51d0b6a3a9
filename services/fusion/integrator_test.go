package fusion

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stable-action/models"
	"stable-action/utils"
)

func upright(ax, ay float64) models.MotionSample {
	return models.MotionSample{
		Gravity:          models.Vector3{X: 0, Y: -1, Z: 0},
		UserAcceleration: models.Vector3{X: ax, Y: ay},
	}
}

func TestIntegrator_Roll(t *testing.T) {
	cases := []struct {
		name    string
		gravity models.Vector3
		want    float64
	}{
		{"upright", models.Vector3{X: 0, Y: -1}, 0},
		{"tilted right", models.Vector3{X: 1, Y: 0}, math.Pi / 2},
		{"tilted left", models.Vector3{X: -1, Y: 0}, -math.Pi / 2},
		{"45 degrees", models.Vector3{X: math.Sqrt2 / 2, Y: -math.Sqrt2 / 2}, math.Pi / 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := NewIntegrator(DefaultParams())
			p := in.Step(models.MotionSample{Gravity: tc.gravity})
			assert.InDelta(t, tc.want, p.Roll, 1e-9)
		})
	}
}

func TestIntegrator_DeadZone(t *testing.T) {
	in := NewIntegrator(DefaultParams())
	for i := 0; i < 500; i++ {
		p := in.Step(upright(0.019, -0.019))
		require.Zero(t, p.OffsetX)
		require.Zero(t, p.OffsetY)
	}
}

func TestIntegrator_OffsetOpposesAcceleration(t *testing.T) {
	in := NewIntegrator(DefaultParams())
	var p models.Pose
	for i := 0; i < 10; i++ {
		p = in.Step(upright(2, -2))
	}
	assert.Less(t, p.OffsetX, 0.0)
	assert.Greater(t, p.OffsetY, 0.0)
}

func TestIntegrator_SelfCentering(t *testing.T) {
	in := NewIntegrator(DefaultParams())
	for i := 0; i < 20; i++ {
		in.Step(upright(5, 5))
	}
	var p models.Pose
	for i := 0; i < 2000; i++ {
		p = in.Step(upright(0, 0))
	}
	assert.InDelta(t, 0, p.OffsetX, 1e-3)
	assert.InDelta(t, 0, p.OffsetY, 1e-3)
}

func TestIntegrator_Clamp(t *testing.T) {
	params := DefaultParams()
	params.Sensitivity = 100
	in := NewIntegrator(params)

	for i := 0; i < 50; i++ {
		p := in.Step(upright(50, -50))
		require.GreaterOrEqual(t, p.OffsetX, -1.0)
		require.LessOrEqual(t, p.OffsetY, 1.0)
	}
	p := in.Step(upright(50, -50))
	assert.Equal(t, -1.0, p.OffsetX)
	assert.Equal(t, 1.0, p.OffsetY)
}

func TestIntegrator_Reset(t *testing.T) {
	in := NewIntegrator(DefaultParams())
	for i := 0; i < 10; i++ {
		in.Step(upright(3, 3))
	}
	in.Reset()
	p := in.Step(upright(0, 0))
	assert.True(t, p.IsIdentity())
}

func TestPoseCell(t *testing.T) {
	var c PoseCell
	assert.True(t, c.Load().IsIdentity(), "zero value is identity")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			c.Store(models.Pose{Roll: float64(i), OffsetX: float64(i), OffsetY: float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p := c.Load()
			// a snapshot is never torn across fields
			assert.Equal(t, p.Roll, p.OffsetX)
			assert.Equal(t, p.Roll, p.OffsetY)
		}
	}()
	wg.Wait()
	assert.Equal(t, 999.0, c.Load().Roll)
}

func TestParamsFromConfig(t *testing.T) {
	cfg := utils.DefaultStabilizerConfig()
	p := ParamsFromConfig(cfg.Fusion, cfg.Motion.UpdateRateHz)
	assert.Equal(t, DefaultParams(), p)

	p = ParamsFromConfig(cfg.Fusion, 100)
	assert.InDelta(t, 0.01, p.Dt, 1e-12)
}
