package record

import "github.com/julianstephens/go-utils/checksum"

// ComputeChecksum computes the CRC32-C (Castagnoli) checksum of data.
func ComputeChecksum(data []byte) uint32 {
	return checksum.CRC32C(data)
}

// VerifyChecksum reports whether crc matches data.
func VerifyChecksum(data []byte, crc uint32) bool {
	return checksum.VerifyCRC32C(data, crc)
}
