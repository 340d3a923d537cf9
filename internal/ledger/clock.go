package ledger

import (
	"sync"
	"time"

	"github.com/vuittont60/scope/internal/solana"
)

// Slot timing of the node.
const (
	SlotDuration  = 400 * time.Millisecond
	SlotsPerEpoch = 432000
)

// Clock supplies the clock sysvar seen by programs.
type Clock interface {
	Now() solana.Clock
}

// WallClock derives slots from elapsed wall time since genesis.
type WallClock struct {
	genesis time.Time
	now     func() time.Time
}

// NewWallClock creates a clock whose slot 0 starts at genesis.
func NewWallClock(genesis time.Time) *WallClock {
	return &WallClock{genesis: genesis, now: time.Now}
}

// Now returns the current clock sysvar.
func (c *WallClock) Now() solana.Clock {
	now := c.now()
	elapsed := now.Sub(c.genesis)
	if elapsed < 0 {
		elapsed = 0
	}
	slot := uint64(elapsed / SlotDuration)
	epoch := slot / SlotsPerEpoch
	epochStart := c.genesis.Add(time.Duration(epoch*SlotsPerEpoch) * SlotDuration)

	return solana.Clock{
		Slot:                slot,
		EpochStartTimestamp: epochStart.Unix(),
		Epoch:               epoch,
		LeaderScheduleEpoch: epoch + 1,
		UnixTimestamp:       now.Unix(),
	}
}

// ManualClock is a clock driven by tests and localnet tooling.
type ManualClock struct {
	mu    sync.Mutex
	clock solana.Clock
}

// NewManualClock creates a clock set to c.
func NewManualClock(c solana.Clock) *ManualClock {
	return &ManualClock{clock: c}
}

// Now returns the current clock.
func (c *ManualClock) Now() solana.Clock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

// Set replaces the clock.
func (c *ManualClock) Set(clock solana.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Advance moves the clock forward by slots and seconds. Crossing an epoch
// boundary moves the epoch start to the current timestamp.
func (c *ManualClock) Advance(slots uint64, seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.Slot += slots
	c.clock.UnixTimestamp += seconds
	if epoch := c.clock.Slot / SlotsPerEpoch; epoch > c.clock.Epoch {
		c.clock.Epoch = epoch
		c.clock.LeaderScheduleEpoch = epoch + 1
		c.clock.EpochStartTimestamp = c.clock.UnixTimestamp
	}
}
