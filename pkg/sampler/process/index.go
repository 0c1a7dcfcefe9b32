package process

import "sort"

// PrefixLen is the number of command-name octets packed into one index
// entry: one machine word minus one octet, for dense cache lookup.
// Grounded on original_source/platform/Linux/sm_proc.c's
// SM_PROC_CMDPREFIXLEN (sizeof(char*)-1), fixed at 7 for a 64-bit word.
const PrefixLen = 7

// ErrDuplicateCommand is returned when registering a command that already
// has a matching index entry.
type ErrDuplicateCommand struct{ Command string }

func (e ErrDuplicateCommand) Error() string {
	return "process: duplicate command configured: " + e.Command
}

type entry struct {
	prefix    [PrefixLen]byte
	streamIdx int
}

func makePrefix(cmd string) [PrefixLen]byte {
	var p [PrefixLen]byte
	n := len(cmd)
	if n > PrefixLen {
		n = PrefixLen
	}
	copy(p[:], cmd[:n])
	return p
}

// saturated reports whether cmd's prefix fills all PrefixLen octets without
// a terminating NUL, meaning the full command may be longer than the
// prefix and needs remainder disambiguation.
func saturated(p [PrefixLen]byte) bool {
	return p[PrefixLen-1] != 0
}

func cmpPrefix(a, b [PrefixLen]byte) int {
	for i := 0; i < PrefixLen; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Index is the sorted command-prefix lookup structure the process sampler
// uses to map a resolved command name to its configured stream, without a
// linear scan over every configured command every tick.
type Index struct {
	entries []entry
	args    []string // full command per stream index, parallel to caller's stream slice
}

// NewIndex returns an empty index. args is the full command string for
// each stream index the caller will later register — kept here so the
// comparator can disambiguate a saturated prefix against the full string.
func NewIndex(args []string) *Index {
	return &Index{args: args}
}

// Insert adds streamIdx (whose command is args[streamIdx]) to the index,
// keeping entries sorted by prefix. It rejects a command that already
// resolves to an existing entry, mirroring init_proc()'s bsearch-then-fatal
// duplicate check.
func (idx *Index) Insert(streamIdx int) error {
	cmd := idx.args[streamIdx]
	if _, ok := idx.Lookup(cmd); ok {
		return ErrDuplicateCommand{Command: cmd}
	}
	idx.entries = append(idx.entries, entry{prefix: makePrefix(cmd), streamIdx: streamIdx})
	sort.Slice(idx.entries, func(i, j int) bool {
		return cmpPrefix(idx.entries[i].prefix, idx.entries[j].prefix) < 0
	})
	return nil
}

// Lookup resolves a live process's command name to a configured stream
// index via binary search on the prefix, falling back to a full-string
// comparison of the remainder when the matched prefix is saturated.
func (idx *Index) Lookup(cmd string) (int, bool) {
	probe := makePrefix(cmd)
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool {
		return cmpPrefix(idx.entries[i].prefix, probe) >= 0
	})
	// Several entries may share a saturated prefix; try each in turn.
	for ; i < n && cmpPrefix(idx.entries[i].prefix, probe) == 0; i++ {
		e := idx.entries[i]
		if !saturated(e.prefix) {
			return e.streamIdx, true
		}
		// A saturated match means both probe and stored prefixes are exactly
		// PrefixLen octets with no NUL, so len(cmd) >= PrefixLen here.
		stored := idx.args[e.streamIdx]
		if cmd[PrefixLen:] == stored[PrefixLen:] {
			return e.streamIdx, true
		}
	}
	return 0, false
}

// Sorted reports whether the index invariant (entries sorted by prefix)
// holds; used by tests after a sequence of insertions.
func (idx *Index) Sorted() bool {
	for i := 1; i < len(idx.entries); i++ {
		if cmpPrefix(idx.entries[i-1].prefix, idx.entries[i].prefix) > 0 {
			return false
		}
	}
	return true
}
