// Package jit owns the executable memory that holds generated machine
// code and mediates emitting into it: partitioned arenas with a
// reclaim-at-finalize-only policy, build sessions driving an assembler,
// caller-owned inline buffers, and the announce path to symbol sinks.
package jit
