// Package frame encodes log records into self-checking frames.
//
// Every stable writer (segment files, Pebble, object storage) stores records in
// the same frame format so that tooling can read any of them:
//
//	[CRC32:4][LSN:8][Module:1][Codec:1][Length:4][Body:Length]
//
// Bodies are optionally compressed with LZ4 or ZSTD. A compressed body starts
// with the uncompressed length as a uint32. Compression is skipped when it
// saves less than 10%, and the codec byte records what was actually used.
package frame
