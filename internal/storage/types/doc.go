// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: one timestamped vector value
//   - Series: an index-aligned run of samples returned by range queries
//   - AggregateResult: statistics computed over a window of samples
//
// Timestamps are int64 nanoseconds everywhere; SecToNanosec and friends
// convert at the edges.
package types
