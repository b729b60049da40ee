// Package testutil provides testing utilities for walbuf.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe random source for generating log payloads.
//
//	rng := testutil.NewRNG(seed)
//	p := rng.Payload(128)          // incompressible bytes
//	t := rng.TextPayload(4096)     // compressible bytes
//	sizes := rng.ZipfSizes(1000, 512, 1.2)
package testutil
