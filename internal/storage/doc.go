// Package storage ties a time-indexed sample history to its persistence and
// query layers.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│   History   │────▶│   Parquet   │
//	│   (+ WAL)   │     │(Ring/Growab)│     │   Export    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                   │                   │
//	       ▼                   ▼                   ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Aggregate  │     │  Retention  │     │ Compaction  │
//	│   Windows   │     │   Manager   │     │   Engine    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//
// A Service owns one stream: a ring or growable history of D-component
// samples with strictly increasing stamps. It provides:
//   - Ordered ingestion with write-ahead logging and crash recovery
//   - Periodic export of new samples and closed windows to Parquet
//   - Merging of small export files per time window
//   - Live/exported range queries and DuckDB SQL over the exports
//   - DDSketch-based percentile summaries
//   - Sample and file retention
//   - Backpressure driven by export lag
package storage
