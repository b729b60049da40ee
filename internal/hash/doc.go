// Package hash provides the checksum used by every walbuf on-disk format.
//
// Log frames, checkpoint files and object uploads are protected with
// CRC32-Castagnoli (CRC32C), which Go computes with SSE4.2 or the ARM CRC
// extension when available.
//
//	checksum := hash.CRC32C(data)
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(body)
//	checksum := h.Sum32()
package hash
