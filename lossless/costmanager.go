package lossless

import (
	"errors"
	"math"
)

// CostManager tracks the dynamic-programming cost array of the optimal
// parse together with a start-ordered list of non-overlapping cost
// intervals. Each interval claims that, for pixels in [start, end), a
// copy anchored at its origin index yields the recorded accumulated
// cost. Deferring these range contributions instead of writing them out
// pixel by pixel turns the O(n*maxLength) cost propagation into
// something close to O(n log n) in practice.
//
// The interval list is an arena of slots addressed by integer index:
// prev/next fields are arena indices, nilInterval is the null link, and
// free slots are tracked on explicit index stacks. Popped inline slots
// return to the free stack; popped overflow slots return to the recycle
// stack. Once count reaches the configured maximum, new contributions
// are serialized directly into the cost array, which is a performance
// fallback only and produces bit-identical results.
//
// Reference: libwebp/src/enc/backward_references_cost_enc.c (CostManager)

// nilInterval is the null arena link.
const nilInterval = int32(-1)

// maxCost is the "unreached" sentinel for cost array entries.
const maxCost = int64(math.MaxInt64)

// skipLength is the length below which a pushed contribution is written
// straight into the cost array: the interval machinery is not worth its
// overhead for short runs. Empirical, from libwebp.
const skipLength = 10

// CostManagerConfig carries the interval pool tuning values.
type CostManagerConfig struct {
	// MaxIntervals bounds the number of live intervals. Contributions
	// pushed while at the bound are serialized directly into the cost
	// array.
	MaxIntervals int
	// FreeSlots is the number of arena slots preallocated at
	// initialization, covering the common case without growth.
	FreeSlots int
}

// DefaultCostManagerConfig returns the tuning used by libwebp:
// at most 500 live intervals, 10 preallocated slots.
func DefaultCostManagerConfig() CostManagerConfig {
	return CostManagerConfig{MaxIntervals: 500, FreeSlots: 10}
}

// Cost manager construction errors.
var (
	ErrInvalidConfig  = errors.New("lossless: invalid cost manager config")
	ErrShortDistArray = errors.New("lossless: dist array shorter than pixel count")
)

// costInterval is one arena slot: a range [start, end) of pixel indices
// over which the copy anchored at index yields the accumulated cost.
type costInterval struct {
	cost  int64
	start int
	end   int
	index int
	prev  int32
	next  int32
}

// costCacheInterval is a precomputed run of copy lengths sharing one
// length-cost value. Lengths bucket into exponential prefix classes, so
// long runs of consecutive lengths collapse into a few entries.
type costCacheInterval struct {
	cost  int64
	start int
	end   int // exclusive
}

// CostManager owns the DP state of one optimal-parse attempt.
type CostManager struct {
	slots    []costInterval
	free     []int32 // reusable preallocated slot indices
	recycled []int32 // reusable overflow slot indices
	inline   int     // number of preallocated slots
	head     int32
	count    int
	maxCount int

	cacheIntervals []costCacheInterval
	costCache      []int64 // costCache[k] = model length cost at offset k
	costs          []int64
	distArray      []uint16
}

// NewCostManager initializes a CostManager for pixCount pixels. The
// caller's distArray is written in place as path decisions are
// recorded; the cost array is seeded to the unreached sentinel.
func NewCostManager(distArray []uint16, pixCount int, model *CostModel, cfg CostManagerConfig) (*CostManager, error) {
	if cfg.MaxIntervals < 0 || cfg.FreeSlots < 0 {
		return nil, ErrInvalidConfig
	}
	if pixCount <= 0 || len(distArray) < pixCount {
		return nil, ErrShortDistArray
	}

	m := &CostManager{
		slots:     make([]costInterval, cfg.FreeSlots),
		free:      make([]int32, cfg.FreeSlots),
		inline:    cfg.FreeSlots,
		head:      nilInterval,
		maxCount:  cfg.MaxIntervals,
		distArray: distArray[:pixCount],
	}
	// Low indices pop first.
	for i := range m.free {
		m.free[i] = int32(cfg.FreeSlots - 1 - i)
	}

	costCacheSize := pixCount
	if costCacheSize > maxLength {
		costCacheSize = maxLength
	}
	m.costCache = make([]int64, costCacheSize)
	for i := range m.costCache {
		m.costCache[i] = model.LengthCost(i)
	}

	// Collapse equal-cost runs of the length cost into buckets.
	numBuckets := 1
	for i := 1; i < costCacheSize; i++ {
		if m.costCache[i] != m.costCache[i-1] {
			numBuckets++
		}
	}
	m.cacheIntervals = make([]costCacheInterval, numBuckets)
	cur := 0
	m.cacheIntervals[0] = costCacheInterval{start: 0, end: 1, cost: m.costCache[0]}
	for i := 1; i < costCacheSize; i++ {
		costVal := m.costCache[i]
		if costVal != m.cacheIntervals[cur].cost {
			cur++
			m.cacheIntervals[cur].start = i
			m.cacheIntervals[cur].cost = costVal
		}
		m.cacheIntervals[cur].end = i + 1
	}

	m.costs = make([]int64, pixCount)
	for i := range m.costs {
		m.costs[i] = maxCost
	}
	return m, nil
}

// Costs exposes the accumulated cost array. Entries only decrease as the
// forward pass proceeds.
func (m *CostManager) Costs() []int64 { return m.costs }

// allocSlot returns a reusable arena index, preferring the inline free
// stack, then recycled overflow slots, then growing the arena.
func (m *CostManager) allocSlot() int32 {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		return idx
	}
	if n := len(m.recycled); n > 0 {
		idx := m.recycled[n-1]
		m.recycled = m.recycled[:n-1]
		return idx
	}
	m.slots = append(m.slots, costInterval{})
	return int32(len(m.slots) - 1)
}

// releaseSlot returns an arena index to its free stack.
func (m *CostManager) releaseSlot(idx int32) {
	if int(idx) < m.inline {
		m.free = append(m.free, idx)
	} else {
		m.recycled = append(m.recycled, idx)
	}
}

// connect makes prev the predecessor of next, updating the list head
// when prev is nil.
func (m *CostManager) connect(prev, next int32) {
	if prev != nilInterval {
		m.slots[prev].next = next
	} else {
		m.head = next
	}
	if next != nilInterval {
		m.slots[next].prev = prev
	}
}

// popInterval unlinks an interval and releases its slot.
func (m *CostManager) popInterval(idx int32) {
	if idx == nilInterval {
		return
	}
	m.connect(m.slots[idx].prev, m.slots[idx].next)
	m.releaseSlot(idx)
	m.count--
}

// updateCost lowers the cost at pixel i to the contribution of the copy
// anchored at position, recording the segment length in distArray.
func (m *CostManager) updateCost(i, position int, cost int64) {
	k := i - position
	if m.costs[i] > cost {
		m.costs[i] = cost
		m.distArray[i] = uint16(k + 1)
	}
}

// updateCostPerInterval serializes a contribution for every pixel in
// [start, end).
func (m *CostManager) updateCostPerInterval(start, end, position int, cost int64) {
	for i := start; i < end; i++ {
		m.updateCost(i, position, cost)
	}
}

// UpdateCostAtIndex folds every live interval covering pixel i into the
// cost array. If doClean is set, intervals ending at or before i are
// popped: the pass only moves forward, so they can never apply again.
func (m *CostManager) UpdateCostAtIndex(i int, doClean bool) {
	cur := m.head
	for cur != nilInterval && m.slots[cur].start <= i {
		next := m.slots[cur].next
		if m.slots[cur].end <= i {
			if doClean {
				m.popInterval(cur)
			}
		} else {
			m.updateCost(i, m.slots[cur].index, m.slots[cur].cost)
		}
		cur = next
	}
}

// positionOrphan places the orphan slot current into the list by start
// order, walking from the hint: backward while the ordering is
// violated, then forward past successors with a smaller start.
func (m *CostManager) positionOrphan(current, hint int32) {
	previous := hint
	if previous == nilInterval {
		previous = m.head
	}
	for previous != nilInterval && m.slots[current].start < m.slots[previous].start {
		previous = m.slots[previous].prev
	}
	for previous != nilInterval && m.slots[previous].next != nilInterval &&
		m.slots[m.slots[previous].next].start < m.slots[current].start {
		previous = m.slots[previous].next
	}

	if previous != nilInterval {
		m.connect(current, m.slots[previous].next)
	} else {
		m.connect(current, m.head)
	}
	m.connect(previous, current)
}

// insertInterval adds the interval [start, end) to the sorted list,
// using hint as the positional search start. At the live-interval bound
// the contribution is serialized directly instead; the outcome is
// identical either way.
func (m *CostManager) insertInterval(hint int32, cost int64, position, start, end int) {
	if start >= end {
		return
	}
	if m.count >= m.maxCount {
		m.updateCostPerInterval(start, end, position, cost)
		return
	}
	idx := m.allocSlot()
	s := &m.slots[idx]
	s.cost = cost
	s.index = position
	s.start = start
	s.end = end
	s.prev = nilInterval
	s.next = nilInterval
	m.positionOrphan(idx, hint)
	m.count++
}

// PushInterval registers the contribution "a copy anchored at position
// costs distanceCost + lengthCost(k) at offset k", for k in [0, length).
// The contribution is decomposed along the precomputed length-cost
// buckets and intersected against the live intervals; cheaper ranges
// replace, split, or truncate what they overlap.
func (m *CostManager) PushInterval(distanceCost int64, position, length int) {
	// Short contributions are written out directly; the interval
	// machinery is not worth it.
	if length < skipLength {
		for j := position; j < position+length; j++ {
			k := j - position
			costTmp := distanceCost + m.costCache[k]
			if m.costs[j] > costTmp {
				m.costs[j] = costTmp
				m.distArray[j] = uint16(k + 1)
			}
		}
		return
	}

	interval := m.head
	for ci := 0; ci < len(m.cacheIntervals) && m.cacheIntervals[ci].start < length; ci++ {
		// Intersection of the ci-th length bucket with the new range.
		start := position + m.cacheIntervals[ci].start
		end := position + m.cacheIntervals[ci].end
		if end > position+length {
			end = position + length
		}
		cost := distanceCost + m.cacheIntervals[ci].cost

		for interval != nilInterval && m.slots[interval].start < end {
			next := m.slots[interval].next

			// No overlap: skip ahead.
			if start >= m.slots[interval].end {
				interval = next
				continue
			}

			if cost >= m.slots[interval].cost {
				// The existing interval wins on the overlap. Insert
				// whatever the new range holds before it, then resume
				// past its end.
				startNew := m.slots[interval].end
				m.insertInterval(interval, cost, position, start, m.slots[interval].start)
				start = startNew
				if start >= end {
					break
				}
				interval = next
				continue
			}

			if start <= m.slots[interval].start {
				if m.slots[interval].end <= end {
					// Existing interval fully covered: remove it.
					m.popInterval(interval)
				} else {
					// Existing interval extends past end: shrink its start.
					m.slots[interval].start = end
					break
				}
			} else {
				if end < m.slots[interval].end {
					// Existing interval fully contains the new range:
					// split off the suffix, keep the prefix.
					endOriginal := m.slots[interval].end
					m.slots[interval].end = start
					m.insertInterval(interval, m.slots[interval].cost, m.slots[interval].index, end, endOriginal)
					interval = m.slots[interval].next
					break
				}
				// Partial overlap on the left: truncate the existing
				// interval and keep scanning.
				m.slots[interval].end = start
			}
			interval = next
		}
		// Insert what remains of the new range.
		m.insertInterval(interval, cost, position, start, end)
	}
}
