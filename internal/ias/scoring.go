package ias

// hasPriority reports whether core is one of sd's claimed (LC-reserved)
// cores. Defined here as a pure function of data IAS already owns — unlike
// LocScore/HTPairingScore, it needs no subcontroller state.
func hasPriority(sd *IasProc, core int) bool {
	return sd.ClaimedCores.Test(core)
}

// score computes the placement score for (sd, core): priority plus locality
// plus the hyperthread-pairing term, summed in this fixed order since
// floating-point addition is not associative (spec.md §9).
func (s *Scheduler) score(sd *IasProc, core int) float64 {
	priority := 0.0
	if hasPriority(sd, core) {
		priority = 100.0
	}

	loc := s.sub.LocScore(sd, core, s.nowUs)

	sib := s.topo.Sibling(core)
	sibOwner := s.cores[sib]
	sibHasPrio := sibOwner != nil && sibOwner != sd && hasPriority(sibOwner, core)

	var ht float64
	if sibHasPrio {
		ht = s.sub.HTPairingScore(sibOwner, sd)
	} else {
		ht = s.sub.HTPairingScore(sd, sibOwner)
	}

	return priority + loc + s.cfg.HTWeight*ht
}
