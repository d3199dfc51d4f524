// Package topology discovers the hyperthread sibling map and allowed-core
// mask that the IAS policy needs from the host, the way internal/host used to
// discover cache and RDT capability: read what sysfs offers, fall back to
// sane defaults otherwise.
package topology

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ias-scheduler/internal/bitset"
	"ias-scheduler/internal/logging"
)

// Topology describes the logical-core sibling map and the set of cores the
// scheduler is allowed to manage.
type Topology struct {
	NCPU      int
	Siblings  []int      // Siblings[core] is the hyperthread pair of core
	Allowed   bitset.Set // cores the scheduler may touch
}

// Sibling returns the hyperthread pair of core.
func (t *Topology) Sibling(core int) int {
	if core < 0 || core >= len(t.Siblings) {
		return core
	}
	return t.Siblings[core]
}

// Validate checks internal consistency: every sibling pointer must be in
// range and symmetric (sibling(sibling(c)) == c).
func (t *Topology) Validate() error {
	if t.NCPU <= 0 {
		return fmt.Errorf("topology: NCPU must be positive, got %d", t.NCPU)
	}
	if len(t.Siblings) != t.NCPU {
		return fmt.Errorf("topology: siblings table has %d entries, want %d", len(t.Siblings), t.NCPU)
	}
	for c, s := range t.Siblings {
		if s < 0 || s >= t.NCPU {
			return fmt.Errorf("topology: core %d has out-of-range sibling %d", c, s)
		}
		if t.Siblings[s] != c {
			return fmt.Errorf("topology: sibling map not symmetric at core %d (sibling %d, sibling-of-sibling %d)", c, s, t.Siblings[s])
		}
	}
	if t.Allowed.Len() != t.NCPU {
		return fmt.Errorf("topology: allowed-cores mask has length %d, want %d", t.Allowed.Len(), t.NCPU)
	}
	return nil
}

// NewPairedTopology builds a synthetic topology where cores are paired
// (0,1), (2,3), ... — the layout used throughout spec.md's end-to-end
// scenarios and by tests that don't need real sysfs discovery.
func NewPairedTopology(ncpu int, allowed []int) *Topology {
	siblings := make([]int, ncpu)
	for c := 0; c < ncpu; c += 2 {
		sib := c + 1
		if sib >= ncpu {
			sib = c
		}
		siblings[c] = sib
		siblings[sib] = c
	}
	allowedSet := bitset.New(ncpu)
	if allowed == nil {
		allowedSet.Fill()
	} else {
		for _, c := range allowed {
			allowedSet.Set(c)
		}
	}
	return &Topology{NCPU: ncpu, Siblings: siblings, Allowed: allowedSet}
}

// Discover reads the hyperthread sibling map from sysfs
// (/sys/devices/system/cpu/cpuN/topology/thread_siblings_list). A core whose
// sibling list cannot be read, or lists no peer, is treated as its own
// sibling (no SMT). If no cpuN directories exist at all, Discover returns an
// error; it does not fall back to NewPairedTopology. Every core is allowed.
func Discover() (*Topology, error) {
	logger := logging.GetLogger()

	n, err := countOnlineCPUs()
	if err != nil {
		return nil, fmt.Errorf("topology: failed to enumerate CPUs: %w", err)
	}

	siblings := make([]int, n)
	for c := range siblings {
		siblings[c] = c // default: no hyperthreading, core is its own sibling
	}

	sawAny := false
	for c := 0; c < n; c++ {
		list, err := readSiblingList(c)
		if err != nil {
			continue
		}
		if len(list) < 2 {
			continue
		}
		sawAny = true
		for _, peer := range list {
			if peer != c && peer < n {
				siblings[c] = peer
				break
			}
		}
	}
	if !sawAny {
		logger.WithField("ncpu", n).Debug("topology: no hyperthread sibling information in sysfs, assuming no SMT")
	}

	allowed := bitset.New(n)
	allowed.Fill()

	return &Topology{NCPU: n, Siblings: siblings, Allowed: allowed}, nil
}

func countOnlineCPUs() (int, error) {
	entries, err := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*")
	if err != nil || len(entries) == 0 {
		return 0, fmt.Errorf("no /sys/devices/system/cpu entries found")
	}
	max := -1
	for _, e := range entries {
		base := filepath.Base(e)
		n, err := strconv.Atoi(strings.TrimPrefix(base, "cpu"))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	if max < 0 {
		return 0, fmt.Errorf("could not parse any cpuN directory")
	}
	return max + 1, nil
}

func readSiblingList(core int) ([]int, error) {
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/topology/thread_siblings_list", core)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, fmt.Errorf("empty sibling list at %s", path)
	}
	return ParseCPUList(scanner.Text())
}

// ParseCPUList parses comma/range CPU lists like "0,2,4" or "0-3" or "0,4-7".
func ParseCPUList(spec string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(strings.TrimSpace(spec), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", part, err)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid cpu range %q: %w", part, err)
			}
			for c := lo; c <= hi; c++ {
				out = append(out, c)
			}
		} else {
			c, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid cpu id %q: %w", part, err)
			}
			out = append(out, c)
		}
	}
	return out, nil
}
