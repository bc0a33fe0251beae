// Package recordframe implements the on-disk record framing shared by the
// HNSW partition blocks and the noun/verb records the storage adapter
// persists: a 4-byte big-endian length prefix,
// a 1-byte schema version tag, the payload, and a CRC32C (Castagnoli)
// trailer.
//
// The teacher lineage's write-ahead log computes its own rolling checksum
// by hand; that checksum is not CRC32C, so frames here are encoded with
// the standard library's hash/crc32 using the Castagnoli polynomial
// instead of reusing that helper.
package recordframe

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/triadb/triadb/pkg/model"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// headerSize is length(4) + version(1).
const headerSize = 5

// trailerSize is the CRC32C checksum.
const trailerSize = 4

// Encode frames payload under the given schema version.
func Encode(version byte, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload)+trailerSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = version
	copy(buf[headerSize:], payload)
	sum := crc32.Checksum(buf[:headerSize+len(payload)], castagnoliTable)
	binary.BigEndian.PutUint32(buf[headerSize+len(payload):], sum)
	return buf
}

// Decode validates and unwraps a frame produced by Encode, returning the
// schema version and the payload. It returns model.ErrIndexCorrupt if the
// trailer doesn't match, and model.ErrUnsupportedVersion if maxVersion is
// non-zero and the frame's version exceeds it.
func Decode(frame []byte, maxVersion byte) (version byte, payload []byte, err error) {
	if len(frame) < headerSize+trailerSize {
		return 0, nil, model.NewError(model.KindIndexCorrupt, "recordframe.Decode", fmt.Errorf("frame too short: %d bytes", len(frame)))
	}
	length := binary.BigEndian.Uint32(frame[0:4])
	version = frame[4]
	want := int(length)
	if headerSize+want+trailerSize != len(frame) {
		return 0, nil, model.NewError(model.KindIndexCorrupt, "recordframe.Decode", fmt.Errorf("length prefix %d inconsistent with frame size %d", length, len(frame)))
	}
	if maxVersion != 0 && version > maxVersion {
		return 0, nil, model.NewError(model.KindUnsupportedVersion, "recordframe.Decode", fmt.Errorf("version %d newer than supported %d", version, maxVersion))
	}
	payload = frame[headerSize : headerSize+want]
	gotSum := binary.BigEndian.Uint32(frame[headerSize+want:])
	wantSum := crc32.Checksum(frame[:headerSize+want], castagnoliTable)
	if gotSum != wantSum {
		return 0, nil, model.NewError(model.KindIndexCorrupt, "recordframe.Decode", fmt.Errorf("checksum mismatch: got %x want %x", gotSum, wantSum))
	}
	return version, payload, nil
}
