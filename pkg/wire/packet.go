package wire

// DecodeRecords walks the record stream in buf[HeaderSize:hdr.Length] and
// returns each decoded record in order. A malformed trailing record stops
// the walk (returning what was decoded so far) rather than panicking;
// callers treat this as a warn-and-move-on condition rather than a hard
// decode failure for the whole packet.
func DecodeRecords(buf []byte, hdr Header) ([]Record, error) {
	var out []Record
	offset := HeaderSize
	for offset < int(hdr.Length) {
		rec, n, err := UnpackRecord(buf[offset:hdr.Length], hdr.Version)
		if err != nil || n == 0 {
			return out, err
		}
		out = append(out, rec)
		offset += n
	}
	return out, nil
}

// PacketBuilder assembles one outbound packet into a buffer it allocates
// itself, used by the probe scheduler. Records are appended one at a
// time; AppendRecord returning 0 (insufficient room) signals the caller to Finish
// the current packet and start a new one.
type PacketBuilder struct {
	buf     []byte
	offset  int
	version uint8
}

// NewPacketBuilder allocates a builder over a buffer of the given capacity,
// leaving room for the header.
func NewPacketBuilder(capacity int, version uint8) *PacketBuilder {
	return &PacketBuilder{buf: make([]byte, capacity), offset: HeaderSize, version: version}
}

// Reset rewinds the builder to an empty packet (header space only), so the
// underlying buffer can be reused across ticks.
func (b *PacketBuilder) Reset() {
	b.offset = HeaderSize
}

// Remaining reports free octets available for the next record.
func (b *PacketBuilder) Remaining() int {
	return len(b.buf) - b.offset
}

// Empty reports whether no records have been appended since Reset.
func (b *PacketBuilder) Empty() bool {
	return b.offset == HeaderSize
}

// AppendRecord writes rec into the builder and returns the octets written,
// or 0 if the builder has insufficient remaining capacity.
func (b *PacketBuilder) AppendRecord(rec Record) (int, error) {
	n, err := PackRecord(b.buf[b.offset:], b.version, rec)
	if err != nil {
		return 0, err
	}
	b.offset += n
	return n, nil
}

// Finish finalizes the header (version, length, CRC, timestamp) and
// returns the completed packet bytes, ready to send.
func (b *PacketBuilder) Finish(timestampUnix uint64) ([]byte, error) {
	if err := FinalizeHeader(b.buf, b.offset, b.version, timestampUnix); err != nil {
		return nil, err
	}
	return b.buf[:b.offset], nil
}
