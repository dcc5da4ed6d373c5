package metrics

import "time"

// Operation names understood by the Recorder implementations in this package.
const (
	// OpEncode is image to tensor conversion.
	OpEncode = "encode"
	// OpInference is a single model invocation.
	OpInference = "inference"
	// OpDecode is raw output to detection conversion.
	OpDecode = "decode"
	// OpDetection counts kept detections; the status is the label.
	OpDetection = "detection"
	// OpModelLoad is loading the model at startup.
	OpModelLoad = "model_load"

	// OpFetch is a single image download.
	OpFetch = "fetch"
	// OpFetchCache is a fetch cache lookup; the status is "hit" or "miss".
	OpFetchCache = "fetch_cache"

	// OpTrigger is a qualifying image in mode B; the status is the group decision.
	OpTrigger = "trigger"
	// OpMute is a mute issued after an escalation.
	OpMute = "mute"
	// OpDelete is an offending message deletion.
	OpDelete = "delete"
	// OpReply is any reply sent to the host.
	OpReply = "reply"
	// OpCommand is a recognized text command; the status is the command name.
	OpCommand = "command"
	// OpRun is one dispatched message handler.
	OpRun = "run"

	// OpArtifactCreate is writing an annotated image.
	OpArtifactCreate = "artifact_create"
	// OpArtifactDelete is removing an annotated image.
	OpArtifactDelete = "artifact_delete"
	// OpArtifactSweep is the shutdown sweep; each removed file counts once.
	OpArtifactSweep = "artifact_sweep"

	// OpStoreLoad is reading persisted state at startup.
	OpStoreLoad = "store_load"
	// OpStoreSave is writing persisted state.
	OpStoreSave = "store_save"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHit     = "hit"
	StatusMiss    = "miss"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1KB is the starting bucket for byte size histograms.
	BucketStart1KB = 1024.0
	// BucketStart64B is the starting bucket for small payload histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
