package vm

// FunctionFeedback is an immutable snapshot of what profiling learned
// about one function. The optimizing compiler plans its speculation from
// a snapshot so a concurrent interpreter cannot shift the ground under
// a compile in progress.
type FunctionFeedback struct {
	FunctionID int
	Count      uint64

	// DominantTypes maps instruction sites to the type seen in at least
	// 90% of sufficient samples there.
	DominantTypes map[int]TypeInfo

	// MonoSites maps property access sites that are monomorphic to their
	// single shape and slot offset.
	MonoSites map[int]CacheEntry

	// BranchBias maps conditional sites to their taken fraction.
	BranchBias map[int]float64
}

// FeedbackFor builds a feedback snapshot for a function.
func (in *Interpreter) FeedbackFor(fnID int) FunctionFeedback {
	fb := FunctionFeedback{
		FunctionID:    fnID,
		DominantTypes: make(map[int]TypeInfo),
		MonoSites:     make(map[int]CacheEntry),
		BranchBias:    make(map[int]float64),
	}
	profile, ok := in.profiles.Peek(fnID)
	if ok {
		fb.Count = profile.Count()
		for _, site := range profile.TypeSites() {
			if t, dominant := profile.DominantType(site); dominant {
				fb.DominantTypes[site] = t
			}
		}
		p, hasProgram := in.FunctionProgram(fnID)
		if hasProgram {
			for site := range p.Instructions {
				if bias, samples := profile.BranchBias(site); samples > 0 {
					fb.BranchBias[site] = bias
				}
			}
		}
	}

	in.mu.RLock()
	table := in.caches[fnID]
	in.mu.RUnlock()
	if table != nil {
		fb.MonoSites = table.MonomorphicSites()
	}
	return fb
}
