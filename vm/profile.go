package vm

import (
	"sync"
	"sync/atomic"

	"github.com/Corten-Browser/Corten-JavascriptRuntime-sub003/bytecode"
)

// TypeInfo is the coarse dynamic type recorded at a profiled site.
type TypeInfo uint8

const (
	TypeUnknown TypeInfo = iota
	TypeNumber
	TypeString
	TypeBoolean
	TypeObject
	TypeFunction
	TypeUndefinedNull

	numTypeInfos
)

func (t TypeInfo) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeFunction:
		return "function"
	case TypeUndefinedNull:
		return "undefined"
	}
	return "unknown"
}

// TypeInfoOf classifies a value for profiling purposes.
func TypeInfoOf(v bytecode.Value) TypeInfo {
	switch {
	case v.IsNumber():
		return TypeNumber
	case v.IsString():
		return TypeString
	case v.IsBoolean():
		return TypeBoolean
	case v.IsFunction():
		return TypeFunction
	case v.IsObject():
		return TypeObject
	case v.IsUndefined() || v.IsNull():
		return TypeUndefinedNull
	}
	return TypeUnknown
}

// Tier promotion thresholds. A function becomes eligible for a tier the
// moment its combined invocation and back-edge count reaches the
// threshold; the crossing itself is observed exactly once because the
// count is incremented by a single thread of control.
type Thresholds struct {
	Baseline   uint64
	Optimizing uint64
}

// DefaultThresholds returns the standard promotion thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Baseline: 500, Optimizing: 10000}
}

// Profile gating constants.
const (
	// dominantTypeRatio is the fraction of samples a single type must
	// hold at a site before speculation on it is considered sound.
	dominantTypeRatio = 0.9

	// minTypeSamples is the sample floor below which no type is reported
	// dominant regardless of ratio.
	minTypeSamples = 10
)

// branchSiteCounts is the taken/not-taken tally for one conditional site.
type branchSiteCounts struct {
	Taken    uint64
	NotTaken uint64
}

// ProfileData accumulates runtime observations for a single function:
// a hot counter shared between invocations and loop back-edges, per-site
// operand type histograms, and per-site branch outcomes.
//
// The counter is updated with atomics so concurrent readers (the compile
// worker, stats) see a consistent value. The per-site maps take a lock:
// they are touched only on interpreter-tier execution where the cost is
// already dominated by dispatch.
type ProfileData struct {
	count atomic.Uint64

	mu       sync.RWMutex
	types    map[int]*[numTypeInfos]uint64
	branches map[int]*branchSiteCounts
}

// NewProfileData creates an empty profile.
func NewProfileData() *ProfileData {
	return &ProfileData{
		types:    make(map[int]*[numTypeInfos]uint64),
		branches: make(map[int]*branchSiteCounts),
	}
}

// RecordInvocation counts one call of the function and returns the new
// combined count.
func (p *ProfileData) RecordInvocation() uint64 {
	return p.count.Add(1)
}

// RecordBackEdge counts one taken loop back-edge and returns the new
// combined count. Back-edges feed the same counter as invocations so a
// long-running loop can promote a function that is rarely called.
func (p *ProfileData) RecordBackEdge() uint64 {
	return p.count.Add(1)
}

// Count returns the current combined invocation and back-edge count.
func (p *ProfileData) Count() uint64 {
	return p.count.Load()
}

// SeedCount raises the count to a persisted warm value. The count never
// moves backward, so a stale snapshot cannot undo live observations.
func (p *ProfileData) SeedCount(n uint64) {
	for {
		cur := p.count.Load()
		if n <= cur || p.count.CompareAndSwap(cur, n) {
			return
		}
	}
}

// RecordType records the dynamic type observed at an instruction site.
func (p *ProfileData) RecordType(site int, t TypeInfo) {
	p.mu.Lock()
	counts := p.types[site]
	if counts == nil {
		counts = new([numTypeInfos]uint64)
		p.types[site] = counts
	}
	counts[t]++
	p.mu.Unlock()
}

// DominantType returns the type seen in at least 90% of at least ten
// samples at the site. Sites with mixed or scarce feedback report no
// dominant type and are never speculated on.
func (p *ProfileData) DominantType(site int) (TypeInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	counts := p.types[site]
	if counts == nil {
		return TypeUnknown, false
	}
	var total, best uint64
	bestType := TypeUnknown
	for t, n := range counts {
		total += n
		if n > best {
			best = n
			bestType = TypeInfo(t)
		}
	}
	if total < minTypeSamples {
		return TypeUnknown, false
	}
	if float64(best) < dominantTypeRatio*float64(total) {
		return TypeUnknown, false
	}
	return bestType, true
}

// RecordBranch records one outcome of a conditional jump site.
func (p *ProfileData) RecordBranch(site int, taken bool) {
	p.mu.Lock()
	b := p.branches[site]
	if b == nil {
		b = &branchSiteCounts{}
		p.branches[site] = b
	}
	if taken {
		b.Taken++
	} else {
		b.NotTaken++
	}
	p.mu.Unlock()
}

// BranchBias returns the taken fraction for a conditional site and the
// total outcomes observed there.
func (p *ProfileData) BranchBias(site int) (bias float64, samples uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b := p.branches[site]
	if b == nil {
		return 0, 0
	}
	samples = b.Taken + b.NotTaken
	if samples == 0 {
		return 0, 0
	}
	return float64(b.Taken) / float64(samples), samples
}

// TypeSites returns the profiled site indices in no particular order.
func (p *ProfileData) TypeSites() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sites := make([]int, 0, len(p.types))
	for s := range p.types {
		sites = append(sites, s)
	}
	return sites
}

// ProfileStore maps function IDs to their profiles. Safe for concurrent
// use; a function's profile is created on first access and never
// replaced, so every recorder and reader shares one instance.
type ProfileStore struct {
	profiles sync.Map // int -> *ProfileData
}

// NewProfileStore creates an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{}
}

// Get returns the profile for a function, creating it if needed.
func (s *ProfileStore) Get(fnID int) *ProfileData {
	if p, ok := s.profiles.Load(fnID); ok {
		return p.(*ProfileData)
	}
	p, _ := s.profiles.LoadOrStore(fnID, NewProfileData())
	return p.(*ProfileData)
}

// Peek returns the profile for a function without creating one.
func (s *ProfileStore) Peek(fnID int) (*ProfileData, bool) {
	p, ok := s.profiles.Load(fnID)
	if !ok {
		return nil, false
	}
	return p.(*ProfileData), true
}

// Range calls fn for every stored profile until fn returns false.
func (s *ProfileStore) Range(fn func(fnID int, p *ProfileData) bool) {
	s.profiles.Range(func(k, v any) bool {
		return fn(k.(int), v.(*ProfileData))
	})
}
