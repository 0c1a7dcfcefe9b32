package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	versions := []uint8{1, 2}
	for _, version := range versions {
		for _, typ := range AllRecordTypes() {
			t.Run(typ.String(), func(t *testing.T) {
				n := FieldCount(typ)
				values := make([]float64, n)
				for i := range values {
					values[i] = float64(i)*1.5 + 1
				}
				rec := Record{Type: typ, Arg: "eth0"}
				if typ == TypeProcess {
					rec.Process = ProcessFields{
						Count:      3,
						UTimeUsec:  123456,
						STimeUsec:  654321,
						RTimeUsec:  777777,
						CPUPercent: 42.5,
						VSizeBytes: 1 << 20,
						RSSBytes:   1 << 18,
					}
				} else {
					rec.Values = values
				}

				buf := make([]byte, 256)
				written, err := PackRecord(buf, version, rec)
				require.NoError(t, err)
				require.NotZero(t, written, "buffer should have been large enough")

				got, n2, err := UnpackRecord(buf[:written], version)
				require.NoError(t, err)
				assert.Equal(t, written, n2)
				assert.Equal(t, rec.Type, got.Type)
				assert.Equal(t, rec.Arg, got.Arg)

				if typ == TypeProcess {
					assert.Equal(t, rec.Process.Count, got.Process.Count)
					assert.Equal(t, rec.Process.CPUPercent, got.Process.CPUPercent)
					assert.Equal(t, rec.Process.VSizeBytes, got.Process.VSizeBytes)
					assert.Equal(t, rec.Process.RSSBytes, got.Process.RSSBytes)
					if version >= 2 {
						assert.Equal(t, rec.Process.UTimeUsec, got.Process.UTimeUsec)
						assert.Equal(t, rec.Process.STimeUsec, got.Process.STimeUsec)
						assert.Equal(t, rec.Process.RTimeUsec, got.Process.RTimeUsec)
					}
				} else {
					require.Len(t, got.Values, len(rec.Values))
					for i := range rec.Values {
						if version <= 1 {
							assert.InDelta(t, rec.Values[i], got.Values[i], 0.01)
						} else {
							assert.Equal(t, rec.Values[i], got.Values[i])
						}
					}
				}
			})
		}
	}
}

func TestPackRecordInsufficientBuffer(t *testing.T) {
	rec := Record{Type: TypeLoad, Arg: "", Values: []float64{1, 2, 3}}
	buf := make([]byte, 4)
	n, err := PackRecord(buf, 2, rec)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPackRecordWrongFieldCount(t *testing.T) {
	rec := Record{Type: TypeLoad, Values: []float64{1, 2}}
	buf := make([]byte, 256)
	_, err := PackRecord(buf, 2, rec)
	assert.Error(t, err)
}

func TestArgTooLong(t *testing.T) {
	rec := Record{Type: TypeEOT, Arg: "this-arg-is-way-too-long-for-16-bytes", Values: []float64{}}
	buf := make([]byte, 256)
	_, err := PackRecord(buf, 2, rec)
	assert.ErrorIs(t, err, ErrArgTooLong)
}

func TestArgNulPadding(t *testing.T) {
	rec := Record{Type: TypeEOT, Arg: "wg0", Values: []float64{}}
	buf := make([]byte, 256)
	n, err := PackRecord(buf, 2, rec)
	require.NoError(t, err)
	for i := 1 + len("wg0"); i < 1+ArgSize; i++ {
		assert.Zero(t, buf[i])
	}
	got, _, err := UnpackRecord(buf[:n], 2)
	require.NoError(t, err)
	assert.Equal(t, "wg0", got.Arg)
}

func TestHeaderRoundTrip(t *testing.T) {
	hdr := Header{Version: 2, Reserved: 0, Length: 128, CRC: 0xdeadbeef, Timestamp: 1700000000}
	buf := make([]byte, HeaderSize)
	require.NoError(t, EncodeHeader(buf, hdr))

	got, n, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
	assert.Equal(t, hdr, got)
}

func TestVerifyAcceptsWellFormedPacket(t *testing.T) {
	b := NewPacketBuilder(256, 2)
	_, err := b.AppendRecord(Record{Type: TypeLoad, Arg: "", Values: []float64{1, 2, 3}})
	require.NoError(t, err)
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	hdr, _, err := DecodeHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, Accept, Verify(packet, hdr, len(packet)))
}

func TestVerifyRejectsBadCRC(t *testing.T) {
	b := NewPacketBuilder(256, 2)
	_, _ = b.AppendRecord(Record{Type: TypeLoad, Arg: "", Values: []float64{1, 2, 3}})
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	packet[len(packet)-1] ^= 0xff
	hdr, _, err := DecodeHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, DropBadCRC, Verify(packet, hdr, len(packet)))
}

func TestVerifyRejectsUnsupportedVersion(t *testing.T) {
	b := NewPacketBuilder(256, MaxSupportedVersion+1)
	_, _ = b.AppendRecord(Record{Type: TypeEOT, Values: []float64{}})
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	hdr, _, err := DecodeHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, DropUnsupportedVersion, Verify(packet, hdr, len(packet)))
}

func TestVerifyRejectsOversized(t *testing.T) {
	hdr := Header{Version: 2, Length: 1024}
	assert.Equal(t, DropOversized, Verify(make([]byte, 1024), hdr, 512))
}

func TestDecodeRecordsMultiple(t *testing.T) {
	b := NewPacketBuilder(512, 2)
	_, err := b.AppendRecord(Record{Type: TypeLoad, Values: []float64{1, 2, 3}})
	require.NoError(t, err)
	_, err = b.AppendRecord(Record{Type: TypeProcess, Arg: "sshd", Process: ProcessFields{Count: 1}})
	require.NoError(t, err)
	packet, err := b.Finish(1700000000)
	require.NoError(t, err)

	hdr, _, err := DecodeHeader(packet)
	require.NoError(t, err)
	records, err := DecodeRecords(packet, hdr)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, TypeLoad, records[0].Type)
	assert.Equal(t, TypeProcess, records[1].Type)
	assert.Equal(t, "sshd", records[1].Arg)
}

func TestPacketBuilderFlushesWhenFull(t *testing.T) {
	b := NewPacketBuilder(HeaderSize+recordHeaderLen()+FieldCount(TypeEOT)*8+5, 2)
	n, err := b.AppendRecord(Record{Type: TypeEOT, Values: []float64{}})
	require.NoError(t, err)
	require.NotZero(t, n)
	assert.False(t, b.Empty())

	n2, err := b.AppendRecord(Record{Type: TypeLoad, Values: []float64{1, 2, 3}})
	require.NoError(t, err)
	assert.Zero(t, n2)
}

func TestParseRecordType(t *testing.T) {
	typ, ok := ParseRecordType("proc")
	require.True(t, ok)
	assert.Equal(t, TypeProcess, typ)

	_, ok = ParseRecordType("bogus")
	assert.False(t, ok)
}
