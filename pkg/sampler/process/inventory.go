//go:build linux

package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Info is one live process as the inventory abstraction reports it: pid,
// command, utime/stime ticks, virtual size and RSS in bytes.
type Info struct {
	PID        int
	Command    string
	UTimeTicks uint64
	STimeTicks uint64
	VSizeBytes uint64
	RSSBytes   uint64
}

// Inventory enumerates the live processes visible to the probe. Tests
// substitute a fake; production uses LinuxInventory.
type Inventory interface {
	Enumerate() ([]Info, error)
}

// LinuxInventory reads /proc directly, grounded on
// original_source/platform/Linux/sm_proc.c's gets_proc() and on
// ja7ad-consumption's pkg/system/proc/proc.go ReadProcStat parsing approach.
type LinuxInventory struct {
	// Root is normally "/proc"; overridable for tests.
	Root string
}

// NewLinuxInventory returns an Inventory rooted at the real /proc.
func NewLinuxInventory() *LinuxInventory {
	return &LinuxInventory{Root: "/proc"}
}

func (p *LinuxInventory) Enumerate() ([]Info, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // not a pid directory
		}
		cmd, ok := resolveCommand(p.Root, pid)
		if !ok {
			continue // exe unreadable: kernel thread or process exited mid-scan
		}
		utime, stime, err := readStatTimes(p.Root, pid)
		if err != nil {
			continue
		}
		vsize, rss, err := readMem(p.Root, pid)
		if err != nil {
			continue
		}
		out = append(out, Info{
			PID:        pid,
			Command:    cmd,
			UTimeTicks: utime,
			STimeTicks: stime,
			VSizeBytes: vsize,
			RSSBytes:   rss,
		})
	}
	return out, nil
}

// resolveCommand follows /proc/<pid>/exe and returns its base name, rather
// than reading the truncated (15-byte) comm field — deliberately, so a
// command like postgresql-15 is not clipped before it reaches the
// command-prefix index.
func resolveCommand(root string, pid int) (string, bool) {
	target, err := os.Readlink(filepath.Join(root, strconv.Itoa(pid), "exe"))
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}

// readStatTimes parses /proc/<pid>/stat for the utime/stime jiffy counters,
// skipping past the parenthesized comm field (which may itself contain
// spaces or parens) the same way ja7ad-consumption's ReadProcStat does.
func readStatTimes(root string, pid int) (utime, stime uint64, err error) {
	f, err := os.Open(filepath.Join(root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, 0, fmt.Errorf("process: empty stat for pid %d", pid)
	}
	line := sc.Text()
	i := strings.LastIndex(line, ") ")
	if i < 0 {
		return 0, 0, fmt.Errorf("process: malformed stat for pid %d", pid)
	}
	fields := strings.Fields(line[i+2:])
	if len(fields) < 13 {
		return 0, 0, fmt.Errorf("process: short stat for pid %d", pid)
	}
	utime, _ = strconv.ParseUint(fields[11], 10, 64)
	stime, _ = strconv.ParseUint(fields[12], 10, 64)
	return utime, stime, nil
}

// readMem returns virtual size and resident set size in bytes, read from
// statm (vsize isn't in smaps_rollup). When statm is unreadable (e.g. the
// process exited mid-scan) the error is returned and Enumerate skips the pid.
func readMem(root string, pid int) (vsize, rss uint64, err error) {
	b, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "statm"))
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("process: short statm for pid %d", pid)
	}
	pageSize := uint64(PageSize())
	sizePages, _ := strconv.ParseUint(fields[0], 10, 64)
	rssPages, _ := strconv.ParseUint(fields[1], 10, 64)
	return sizePages * pageSize, rssPages * pageSize, nil
}
