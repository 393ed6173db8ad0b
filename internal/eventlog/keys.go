package eventlog

import (
	"encoding/binary"
)

var (
	logPrefix  = []byte("log/")
	idemPrefix = []byte("idem/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyLogMeta builds the range metadata key.
func KeyLogMeta(rangeIdx uint32) []byte {
	k := make([]byte, 0, len(logPrefix)+4+len(metaSuffix))
	k = append(k, logPrefix...)
	k = appendBE4(k, rangeIdx)
	return append(k, metaSuffix...)
}

// KeyLogEntryPrefix is the common prefix of every entry in a range.
func KeyLogEntryPrefix(rangeIdx uint32) []byte {
	k := make([]byte, 0, len(logPrefix)+4+len(entrySeg)+8)
	k = append(k, logPrefix...)
	k = appendBE4(k, rangeIdx)
	return append(k, entrySeg...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for ordering.
func KeyLogEntry(rangeIdx uint32, seq uint64) []byte {
	return appendBE8(KeyLogEntryPrefix(rangeIdx), seq)
}

// KeyIdem builds the key recording that an event id was appended.
func KeyIdem(eventID string) []byte {
	k := make([]byte, 0, len(idemPrefix)+len(eventID))
	k = append(k, idemPrefix...)
	return append(k, eventID...)
}
