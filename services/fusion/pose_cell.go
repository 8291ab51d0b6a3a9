package fusion

import (
	"sync"

	"stable-action/models"
)

// PoseCell is the only value shared read/write between the sensor and capture
// goroutines. The zero value holds the identity pose.
type PoseCell struct {
	mu   sync.Mutex
	pose models.Pose
}

func (c *PoseCell) Load() models.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

func (c *PoseCell) Store(p models.Pose) {
	c.mu.Lock()
	c.pose = p
	c.mu.Unlock()
}
