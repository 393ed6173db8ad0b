package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrCorrupt is returned when a stored entry fails its checksum.
var ErrCorrupt = errors.New("eventlog: corrupt entry")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames header and payload as varint(len header)|header|payload|crc32c.
func EncodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

// DecodeRecord reverses EncodeRecord. Returned slices are copies.
func DecodeRecord(b []byte) (header, payload []byte, err error) {
	if len(b) < 1+4 {
		return nil, nil, ErrCorrupt
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || uint64(n)+hlen+4 > uint64(len(b)) {
		return nil, nil, ErrCorrupt
	}
	h := b[n : n+int(hlen)]
	p := b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, h)
	crc = crc32.Update(crc, castagnoli, p)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, ErrCorrupt
	}
	return append([]byte(nil), h...), append([]byte(nil), p...), nil
}
