package wire

import (
	"encoding/binary"
	"math"
)

// ProcessFields is the PROCESS record payload. It gets bespoke treatment
// because it is the only record type with in-scope sampler logic. Grounded
// on original_source/platform/Linux/sm_proc.c's
// get_proc(), which packs (cnt, utime_diff, stime_diff, rtime_diff,
// cpu_pcti, mem_procsize, mem_rss).
type ProcessFields struct {
	Count      uint32  // live processes matching the command this tick
	UTimeUsec  uint64  // user CPU microseconds since previous tick (saturating diff)
	STimeUsec  uint64  // system CPU microseconds since previous tick
	RTimeUsec  uint64  // real (user+system) CPU microseconds since previous tick
	CPUPercent float32 // utime+stime over wall-clock delta, see process.Sampler.SampleAll
	VSizeBytes uint64  // virtual memory size, snapshot not a diff
	RSSBytes   uint64  // resident set size, snapshot not a diff
}

// processPayloadLen returns the payload length (excluding the 1+ArgSize
// record header) for the given version. Only the three time counters widen
// between v1 and v2 — count, cpu percent and the memory fields are already
// wide enough in both versions.
func processPayloadLen(version uint8) int {
	timeWidth := 4
	if version >= 2 {
		timeWidth = 8
	}
	return 4 /* count */ + 3*timeWidth /* utime,stime,rtime */ + 4 /* cpu pct */ + 8 + 8 /* vsize,rss */
}

func packProcessRecord(buf []byte, version uint8, arg string, pf ProcessFields) (int, error) {
	total := recordHeaderLen() + processPayloadLen(version)
	if len(buf) < total {
		return 0, nil
	}
	if err := validateArgLen(arg); err != nil {
		return 0, err
	}

	buf[0] = uint8(TypeProcess)
	if err := encodeArg(buf[1:1+ArgSize], arg); err != nil {
		return 0, err
	}
	off := recordHeaderLen()

	binary.BigEndian.PutUint32(buf[off:off+4], pf.Count)
	off += 4

	if version >= 2 {
		binary.BigEndian.PutUint64(buf[off:off+8], pf.UTimeUsec)
		off += 8
		binary.BigEndian.PutUint64(buf[off:off+8], pf.STimeUsec)
		off += 8
		binary.BigEndian.PutUint64(buf[off:off+8], pf.RTimeUsec)
		off += 8
	} else {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(pf.UTimeUsec))
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(pf.STimeUsec))
		off += 4
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(pf.RTimeUsec))
		off += 4
	}

	binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(pf.CPUPercent))
	off += 4
	binary.BigEndian.PutUint64(buf[off:off+8], pf.VSizeBytes)
	off += 8
	binary.BigEndian.PutUint64(buf[off:off+8], pf.RSSBytes)
	off += 8

	return total, nil
}

func unpackProcessRecord(buf []byte, version uint8) (ProcessFields, int, error) {
	total := recordHeaderLen() + processPayloadLen(version)
	if len(buf) < total {
		return ProcessFields{}, 0, ErrShortBuffer
	}

	var pf ProcessFields
	off := recordHeaderLen()

	pf.Count = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4

	if version >= 2 {
		pf.UTimeUsec = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		pf.STimeUsec = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
		pf.RTimeUsec = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
	} else {
		pf.UTimeUsec = uint64(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		pf.STimeUsec = uint64(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
		pf.RTimeUsec = uint64(binary.BigEndian.Uint32(buf[off : off+4]))
		off += 4
	}

	pf.CPUPercent = math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4]))
	off += 4
	pf.VSizeBytes = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8
	pf.RSSBytes = binary.BigEndian.Uint64(buf[off : off+8])
	off += 8

	return pf, total, nil
}
