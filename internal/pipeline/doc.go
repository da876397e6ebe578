// Package pipeline is the bounded-concurrency ingest-and-publish worker
// pool: it drains the filtered feed, converts each image, appends it to its
// numbered sticker set, and announces each set's first sticker exactly once,
// checkpointing every outcome in the progress store so restarts resume
// instead of reprocessing.
package pipeline
