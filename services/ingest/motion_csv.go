package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"stable-action/models"
	"stable-action/utils"
	"stable-action/views"
)

// CSVMotion replays a motion log (timestamp_ns, gravity xyz, accel xyz) at
// its recorded pace.
type CSVMotion struct {
	path     string
	buf      int
	Out      chan models.MotionSample
	dropped  uint64
	produced uint64
}

func NewCSVMotion(path string, buffer int) *CSVMotion {
	if buffer <= 0 {
		buffer = 512
	}
	return &CSVMotion{path: path, buf: buffer}
}

func (r *CSVMotion) Available() bool {
	st, err := os.Stat(r.path)
	return err == nil && !st.IsDir()
}

func (r *CSVMotion) Start(ctx context.Context) (<-chan models.MotionSample, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: motion log %s: %v", models.ErrDeviceUnavailable, r.path, err)
	}
	r.Out = make(chan models.MotionSample, r.buf)
	go r.run(ctx, f)
	utils.L().Info("motion replay started  (file=%s)", r.path)
	return r.Out, nil
}

func (r *CSVMotion) run(ctx context.Context, f *os.File) {
	defer close(r.Out)
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	var (
		first   time.Duration
		started time.Time
		line    int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			utils.L().Warn("motion replay: line %d: %v", line, err)
			continue
		}
		if line == 1 && views.SchemaMotion.ValidateHeader(row) == nil {
			continue
		}
		s, err := models.ParseMotionRow(row)
		if err != nil {
			utils.L().Debug("motion replay: skip line %d: %v", line, err)
			continue
		}

		if started.IsZero() {
			first, started = s.Timestamp, time.Now()
		}
		if wait := time.Until(started.Add(s.Timestamp - first)); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		select {
		case <-ctx.Done():
			return
		case r.Out <- s:
			atomic.AddUint64(&r.produced, 1)
		default:
			atomic.AddUint64(&r.dropped, 1)
		}
	}
	utils.L().Info("motion replay finished (produced=%d, dropped=%d)",
		atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped))
}

func (r *CSVMotion) Stats() (uint64, uint64) {
	return atomic.LoadUint64(&r.produced), atomic.LoadUint64(&r.dropped)
}
