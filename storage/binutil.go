// Package storage implements KiteDB's single-file storage engine: the
// page-aligned file layout, the header page, the write-ahead log, and the
// low-level binary/hash primitives the rest of the engine builds on.
package storage

import (
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
)

// crc32cTable is the Castagnoli polynomial table used throughout the file
// format (header page, WAL records, replication frames). CRC32C has
// hardware acceleration on amd64/arm64 via the standard library's table
// construction, and is the same checksum bolt/etcd-style engines use for
// page-level integrity.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli CRC32 checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// CRC32CUpdate extends a running CRC32C checksum with more data, letting
// callers checksum a multi-segment payload without concatenating it first.
func CRC32CUpdate(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32cTable, data)
}

// HashKey returns the xxhash64 digest used to bucket node keys in the
// snapshot's key index (spec §4.3 invariant 6) and to look them up in the
// delta overlay.
func HashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}
