package state

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// ConnState tracks the modbus connection owned by the polling loop.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
	CoolingDown  ConnState = "cooling_down"
)

// Value is a decoded register value, numeric or text.
type Value struct {
	Number float64
	Text   string
	IsText bool
}

func Number(f float64) Value {
	return Value{Number: f}
}

func Text(s string) Value {
	return Value{Text: s, IsText: true}
}

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// ChangedFrom reports if v differs from last enough to be worth
// publishing again. Numeric values use an absolute epsilon, text values
// exact match.
func (v Value) ChangedFrom(last Value, eps float64) bool {
	if v.IsText || last.IsText {
		return v.String() != last.String()
	}
	diff := math.Abs(v.Number - last.Number)
	if eps > 0 {
		return diff >= eps
	}
	return diff != 0
}

// Reading is a single successful register read.
type Reading struct {
	Name  string
	Value Value
	At    time.Time
}

// Counters is written by the polling loop and read by the health
// reporter goroutine, hence the atomics.
type Counters struct {
	started time.Time

	ok        atomic.Uint64
	fail      atomic.Uint64
	conflicts atomic.Uint64
	cycles    atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{started: time.Now()}
}

func (c *Counters) AddOk()       { c.ok.Add(1) }
func (c *Counters) AddFail()     { c.fail.Add(1) }
func (c *Counters) AddConflict() { c.conflicts.Add(1) }

// AddCycle increments the cycle counter and returns the new count.
func (c *Counters) AddCycle() uint64 {
	return c.cycles.Add(1)
}

func (c *Counters) Conflicts() uint64 {
	return c.conflicts.Load()
}

type Health struct {
	OkTotal   uint64 `json:"ok_total"`
	FailTotal uint64 `json:"fail_total"`
	Conflicts uint64 `json:"conflicts"`
	Cycles    uint64 `json:"cycles"`
	UptimeS   int64  `json:"uptime_s"`
}

func (c *Counters) Snapshot() Health {
	return Health{
		OkTotal:   c.ok.Load(),
		FailTotal: c.fail.Load(),
		Conflicts: c.conflicts.Load(),
		Cycles:    c.cycles.Load(),
		UptimeS:   int64(time.Since(c.started).Seconds()),
	}
}
