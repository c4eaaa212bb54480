package config

import "time"

// Logging
const (
	LogDir         = "./logs"
	LogFilePattern = "p2ms-analyzer-%s-%s.log" // date, level
	LogMaxAgeDays  = 30
)

// Database
const (
	DBPath        = "./data/p2ms.sqlite"
	DBBusyTimeout = 5000 // milliseconds
)

// Batch sizes / progress intervals, per stage. Mirrors original_source's
// Stage2Config/Stage3Config defaults (batch_size=50/100, progress_interval=100/1000).
const (
	Stage1BatchSize        = 1000
	Stage1ProgressInterval = 10_000
	Stage2BatchSize        = 50
	Stage2ProgressInterval = 100
	Stage3BatchSize        = 100
	Stage3ProgressInterval = 1_000
)

// RPC defaults.
const (
	RPCTimeout             = 30 * time.Second
	RPCMaxRetries          = 5
	RPCInitialBackoff      = 500 * time.Millisecond
	RPCBackoffMultiplier   = 2.0
	RPCMaxBackoffSeconds   = 60
	RPCConcurrentRequests  = 8
)

// Dust thresholds, Bitcoin Core defaults (spec §6 / §8).
const (
	DustThresholdNonSegwitSats = 546
	DustThresholdSegwitSats    = 294
	LikelyDataStorageDustSats  = 1000 // spec §4.4.7
)

// Omni Layer Exodus marker address (spec §4.4.6 / GLOSSARY).
const OmniExodusAddress = "1EXoDusjGwvnjZUyKkxZ4UHEf77z6A5S4P"

// Week bucket size in seconds, Thursday-anchored (GLOSSARY).
const WeekBucketSeconds = 604800
