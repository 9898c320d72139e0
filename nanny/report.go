package nanny

import (
	"time"

	"go.uber.org/zap"
)

// Stall is one period the sandbox spent throttled. Stalls raised by
// AdmitQuantity name the resource that blocked; forced stops recorded
// by the CPU sampler name CPU.
type Stall struct {
	Resource Name          `cbor:"resource" json:"resource"`
	At       time.Duration `cbor:"at" json:"at"`
	Duration time.Duration `cbor:"duration" json:"duration"`
}

// Report is a snapshot of the ledger.
type Report struct {
	Limits  map[Name]float64 `cbor:"limits" json:"limits"`
	Allowed map[Name][]int   `cbor:"allowed" json:"allowed"`
	Usage   map[Name]float64 `cbor:"usage" json:"usage"`
	Items   map[Name][]int   `cbor:"items" json:"items"`
	Stalls  []Stall          `cbor:"stalls" json:"stalls"`
}

// Resources returns limits, current usage and the most recent stalls.
func (n *Nanny) Resources() Report {
	usage, items := n.ledger.usage(n.clock.Now())
	limits := make(map[Name]float64, len(n.ledger.limits))
	for k, v := range n.ledger.limits {
		limits[k] = v
	}

	n.stallMu.Lock()
	stalls := append([]Stall(nil), n.stalls...)
	n.stallMu.Unlock()

	return Report{
		Limits:  limits,
		Allowed: n.ledger.allowed(),
		Usage:   usage,
		Items:   items,
		Stalls:  stalls,
	}
}

// RecordStop records a forced stop of the sandbox by the CPU sampler.
func (n *Nanny) RecordStop(at time.Time, d time.Duration) {
	n.recordStall(CPU, at, d)
}

// CPUSleepInterval returns how long the sandbox must stay stopped so
// that its average CPU use over elapsed plus the stop equals limit.
// percentUsed is the fraction of one CPU used during elapsed.
func CPUSleepInterval(limit, percentUsed float64, elapsed time.Duration) time.Duration {
	if limit <= 0 || elapsed <= 0 {
		return 0
	}
	secs := elapsed.Seconds()
	stop := percentUsed*secs/limit - secs
	if stop <= 0 {
		return 0
	}
	return time.Duration(stop * float64(time.Second))
}

func (n *Nanny) recordStall(name Name, at time.Time, d time.Duration) {
	s := Stall{Resource: name, At: at.Sub(n.start), Duration: d}

	n.stallMu.Lock()
	n.stalls = append(n.stalls, s)
	if len(n.stalls) > maxStalls {
		n.stalls = n.stalls[len(n.stalls)-maxStalls:]
	}
	n.stallMu.Unlock()

	n.stallLog.Do(func() {
		n.logger.Info("throttled",
			zap.String("resource", string(name)),
			zap.Duration("stall", d),
		)
	})
}
