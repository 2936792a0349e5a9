package searcher

import (
	"sync/atomic"
	"time"
)

type SearchMetrics struct {
	Duration  time.Duration
	Families  int64 // verified by the oracle
	Splits    int64
	Pruned    int64
	Dominated int64
}

type Collector interface {
	Start()
	AddFamily()
	AddSplit()
	AddPruned()
	AddDominated()
	Complete() SearchMetrics
}

type collector struct {
	startTime time.Time
	families  atomic.Int64
	splits    atomic.Int64
	pruned    atomic.Int64
	dominated atomic.Int64
}

func NewCollector() Collector {
	return &collector{}
}

func (c *collector) Start() {
	c.startTime = time.Now()
	c.families.Store(0)
	c.splits.Store(0)
	c.pruned.Store(0)
	c.dominated.Store(0)
}

func (c *collector) AddFamily() {
	c.families.Add(1)
}

func (c *collector) AddSplit() {
	c.splits.Add(1)
}

func (c *collector) AddPruned() {
	c.pruned.Add(1)
}

func (c *collector) AddDominated() {
	c.dominated.Add(1)
}

func (c *collector) Complete() SearchMetrics {
	return SearchMetrics{
		Duration:  time.Since(c.startTime),
		Families:  c.families.Load(),
		Splits:    c.splits.Load(),
		Pruned:    c.pruned.Load(),
		Dominated: c.dominated.Load(),
	}
}

type noCollector struct{}

func NewNoCollector() Collector {
	return &noCollector{}
}

func (c *noCollector) Start()                  {}
func (c *noCollector) AddFamily()              {}
func (c *noCollector) AddSplit()               {}
func (c *noCollector) AddPruned()              {}
func (c *noCollector) AddDominated()           {}
func (c *noCollector) Complete() SearchMetrics { return SearchMetrics{} }
