package service

import (
	"time"

	"github.com/berfenger/smartboiler2mqtt/internal/core/domain"
)

// ConsumptionAccumulator turns raw device counter readings into a
// non-decreasing total. The device counter may reset; a reading below the
// previous one becomes the new baseline and adds nothing.
type ConsumptionAccumulator struct {
	record  domain.ConsumptionRecord
	version uint64
	saved   uint64
	now     func() time.Time
}

func NewConsumptionAccumulator(record domain.ConsumptionRecord) *ConsumptionAccumulator {
	return &ConsumptionAccumulator{
		record: record,
		now:    time.Now,
	}
}

// Accumulate applies one raw reading (Wh) and returns the delta added.
func (a *ConsumptionAccumulator) Accumulate(rawWh uint32) uint32 {
	var delta uint32
	if a.record.HasBaseline && rawWh >= a.record.LastRawWh {
		delta = rawWh - a.record.LastRawWh
	}
	a.record.TotalWh += uint64(delta)
	a.record.LastRawWh = rawWh
	a.record.HasBaseline = true
	a.record.UpdatedAt = a.now()
	a.version++
	return delta
}

func (a *ConsumptionAccumulator) Record() domain.ConsumptionRecord {
	return a.record
}

// Snapshot returns the record to persist and a token for MarkSaved.
func (a *ConsumptionAccumulator) Snapshot() (domain.ConsumptionRecord, uint64) {
	return a.record, a.version
}

func (a *ConsumptionAccumulator) MarkSaved(version uint64) {
	if version > a.saved {
		a.saved = version
	}
}

// Dirty reports whether readings were applied since the last successful save.
func (a *ConsumptionAccumulator) Dirty() bool {
	return a.version > a.saved
}
