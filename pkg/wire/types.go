// Package wire implements the symon/symux packet format: a fixed 16-octet
// header followed by a stream of variable-length records, as described in
// original_source/symux/symuxnet.c and platform/Linux/sm_proc.c.
package wire

import "fmt"

// RecordType enumerates the closed set of measurement kinds a packet can
// carry. The set and ordering mirror original_source's MT_* constants.
type RecordType uint8

const (
	TypeCPU RecordType = iota + 1
	TypeCPUWeighted
	TypeInterface
	TypeDiskIO
	TypeFilesystem
	TypeMemory
	TypeProcess
	TypeSensor
	TypeSMART
	TypeLoad
	TypeFlukso
	TypeIO1
	TypeMBuf
	TypeTest
	TypePF
	TypePFQ
	TypeWG
	TypeRTT
	TypeEOT
)

var typeNames = map[RecordType]string{
	TypeCPU:         "cpu",
	TypeCPUWeighted: "cpu2",
	TypeInterface:   "if",
	TypeDiskIO:      "io",
	TypeFilesystem:  "df",
	TypeMemory:      "mem",
	TypeProcess:     "proc",
	TypeSensor:      "sensor",
	TypeSMART:       "smart",
	TypeLoad:        "load",
	TypeFlukso:      "flukso",
	TypeIO1:         "io1",
	TypeMBuf:        "mbuf",
	TypeTest:        "debug",
	TypePF:          "pf",
	TypePFQ:         "pfq",
	TypeWG:          "wg",
	TypeRTT:         "rtt",
	TypeEOT:         "eot",
}

// String renders the canonical short name used in configuration blocks and
// fan-out lines (e.g. "cpu", "proc").
func (t RecordType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseRecordType resolves a configuration-file token to its RecordType.
func ParseRecordType(name string) (RecordType, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// AllRecordTypes returns the closed set in wire-order, used by the probe's
// "-l" flag and by round-trip tests.
func AllRecordTypes() []RecordType {
	return []RecordType{
		TypeCPU, TypeCPUWeighted, TypeInterface, TypeDiskIO, TypeFilesystem,
		TypeMemory, TypeProcess, TypeSensor, TypeSMART, TypeLoad, TypeFlukso,
		TypeIO1, TypeMBuf, TypeTest, TypePF, TypePFQ, TypeWG, TypeRTT, TypeEOT,
	}
}

// genericFieldCount is the number of numeric fields carried by each
// non-PROCESS record type. PROCESS has its own bespoke payload (see
// process.go) because it is the only type with in-scope sampler logic;
// everything else is opaque but must still round-trip through the codec,
// so a data-driven fixed-arity payload is used for it.
var genericFieldCount = map[RecordType]int{
	TypeCPU:         5, // user, nice, system, interrupt, idle (ticks)
	TypeCPUWeighted: 6, // as above plus a load-weighted sample count
	TypeInterface:   8, // ipackets, ierrors, opackets, oerrors, collisions, ibytes, obytes, drops
	TypeDiskIO:      4, // reads, writes, rbytes, wbytes
	TypeFilesystem:  4, // bytes free, bytes total, inodes free, inodes total
	TypeMemory:      6, // real active, real total, free, swap used, swap total, cache
	TypeSensor:      1, // sensor reading (temp/fan/volt, unit implied by arg)
	TypeSMART:       3, // reallocated sectors, pending sectors, temperature
	TypeLoad:        3, // 1, 5, 15 minute load averages
	TypeFlukso:      1, // instantaneous power (W)
	TypeIO1:         2, // transfers, bytes
	TypeMBuf:        4, // mbufs in use, mbuf bytes, mbuf clusters, denied
	TypeTest:        1, // a single echo/debug value
	TypePF:          10,
	TypePFQ:         4,
	TypeWG:          4, // rx bytes, tx bytes, handshake age, persistent keepalive
	TypeRTT:         3, // min, avg, max round-trip microseconds
	TypeEOT:         0,
}

// FieldCount returns the number of numeric fields a record of type t
// carries. PROCESS is reported for completeness even though it is encoded
// by dedicated functions.
func FieldCount(t RecordType) int {
	if t == TypeProcess {
		return 7
	}
	return genericFieldCount[t]
}
