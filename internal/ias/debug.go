package ias

// PrintDebugInfo logs the periodic per-process and per-pair debug lines in
// the exact format spec.md §6 pins:
//
//	PID <pid>: <C|_><B|_> ACTIVE <n>, LIMIT <n>, MAX <n>, IPC <f>
//	PID <a>x<b>: IPC <f>
//	bw_cur <f> bw_punish <ld> bw_relax <ld>
func (s *Scheduler) PrintDebugInfo() {
	for _, sd := range s.procs {
		if sd == nil {
			continue
		}
		congestedFlag := "_"
		if sd.IsCongested {
			congestedFlag = "C"
		}
		bwFlag := "_"
		if sd.IsBWLimited {
			bwFlag = "B"
		}
		log.Infof("PID %d: %s%s ACTIVE %d, LIMIT %d, MAX %d, IPC %f",
			sd.PID, congestedFlag, bwFlag, sd.ThreadsActive, sd.ThreadsLimit, sd.ThreadsMax, sd.HTMaxIPC)

		for _, other := range s.procs {
			if other == nil {
				continue
			}
			log.Infof("\tPID %dx%d: IPC %f", sd.PID, other.PID, sd.HTPairingIPC[other.Idx])
		}
	}

	bwCur, bwPunish, bwRelax := s.sub.Counts()
	log.Infof("bw_cur %f bw_punish %d bw_relax %d", bwCur, bwPunish, bwRelax)
}
