package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// ArgSize is the fixed, NUL-padded width of a record's instance identifier
// (interface name, mount path, command name, "host:port", …).
const ArgSize = 16

// ErrArgTooLong is returned when an instance identifier does not fit in
// ArgSize octets.
var ErrArgTooLong = errors.New("wire: arg exceeds 16 octets")

// Record is one decoded measurement unit. Values holds the generic numeric
// payload for every type except PROCESS, which is carried in Process.
type Record struct {
	Type    RecordType
	Arg     string
	Values  []float64
	Process ProcessFields
}

func encodeArg(buf []byte, arg string) error {
	if len(arg) > ArgSize {
		return ErrArgTooLong
	}
	for i := 0; i < ArgSize; i++ {
		if i < len(arg) {
			buf[i] = arg[i]
		} else {
			buf[i] = 0
		}
	}
	return nil
}

func decodeArg(buf []byte) string {
	n := 0
	for n < ArgSize && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

// fieldWidth returns the per-field byte width a generic record uses for the
// given version: 4 (float32) for version 1, 8 (float64) for version 2. This
// is the integer-widths-differ-by-version behavior, generalized to the
// full closed set of record types.
func fieldWidth(version uint8) int {
	if version <= 1 {
		return 4
	}
	return 8
}

// PackRecord writes one record into buf and returns the number of octets
// written, or 0 if buf lacks the capacity (the scheduler then flushes the
// current packet and starts a new one).
func PackRecord(buf []byte, version uint8, rec Record) (int, error) {
	if rec.Type == TypeProcess {
		return packProcessRecord(buf, version, rec.Arg, rec.Process)
	}
	return packGenericRecord(buf, version, rec.Type, rec.Arg, rec.Values)
}

func recordHeaderLen() int { return 1 + ArgSize }

func packGenericRecord(buf []byte, version uint8, t RecordType, arg string, values []float64) (int, error) {
	n := FieldCount(t)
	if len(values) != n {
		return 0, errors.New("wire: wrong field count for record type")
	}
	w := fieldWidth(version)
	total := recordHeaderLen() + n*w
	if len(buf) < total {
		return 0, nil
	}
	if err := validateArgLen(arg); err != nil {
		return 0, err
	}

	buf[0] = uint8(t)
	if err := encodeArg(buf[1:1+ArgSize], arg); err != nil {
		return 0, err
	}
	off := recordHeaderLen()
	for _, v := range values {
		if w == 4 {
			binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(float32(v)))
			off += 4
		} else {
			binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
			off += 8
		}
	}
	return total, nil
}

func validateArgLen(arg string) error {
	if len(arg) > ArgSize {
		return ErrArgTooLong
	}
	return nil
}

// UnpackRecord decodes one record from buf starting at offset 0 and returns
// it along with the number of octets consumed. version selects the payload
// widths: decoder v1/v2 differ in integer widths.
func UnpackRecord(buf []byte, version uint8) (Record, int, error) {
	if len(buf) < recordHeaderLen() {
		return Record{}, 0, ErrShortBuffer
	}
	t := RecordType(buf[0])
	arg := decodeArg(buf[1 : 1+ArgSize])

	if t == TypeProcess {
		pf, n, err := unpackProcessRecord(buf, version)
		if err != nil {
			return Record{}, 0, err
		}
		return Record{Type: t, Arg: arg, Process: pf}, n, nil
	}

	n := FieldCount(t)
	w := fieldWidth(version)
	total := recordHeaderLen() + n*w
	if len(buf) < total {
		return Record{}, 0, ErrShortBuffer
	}
	values := make([]float64, n)
	off := recordHeaderLen()
	for i := 0; i < n; i++ {
		if w == 4 {
			values[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[off : off+4])))
			off += 4
		} else {
			values[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
			off += 8
		}
	}
	return Record{Type: t, Arg: arg, Values: values}, total, nil
}
