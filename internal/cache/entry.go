package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Stored values are a fixed header followed by the raw payload:
//
//	[0]    magic 0xD5
//	[1]    version
//	[2:10] storedAt, unix nanoseconds, big endian
//	[10:]  payload
const (
	entryMagic   byte = 0xD5
	entryVersion byte = 1
	headerSize        = 10
)

var ErrCorrupt = errors.New("cache: corrupt snapshot entry")

func encodeEntry(storedAt time.Time, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = entryMagic
	buf[1] = entryVersion
	binary.BigEndian.PutUint64(buf[2:headerSize], uint64(storedAt.UnixNano()))
	copy(buf[headerSize:], payload)
	return buf
}

func decodeEntry(raw []byte) (time.Time, []byte, error) {
	if len(raw) < headerSize {
		return time.Time{}, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(raw))
	}
	if raw[0] != entryMagic {
		return time.Time{}, nil, fmt.Errorf("%w: bad magic 0x%02x", ErrCorrupt, raw[0])
	}
	if raw[1] != entryVersion {
		return time.Time{}, nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, raw[1])
	}

	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(raw[2:headerSize])))
	payload := make([]byte, len(raw)-headerSize)
	copy(payload, raw[headerSize:])
	return storedAt, payload, nil
}

// EncodedSize is the number of bytes a payload occupies once stored.
func EncodedSize(payload []byte) int64 {
	return int64(headerSize + len(payload))
}
