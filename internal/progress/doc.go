// Package progress persists the pipeline's dedup state: which feed items
// have already been processed and which sticker-set indices have already
// been announced.
//
// The store is write-through: every mark is flushed as a full snapshot so a
// crash loses at most the in-flight item. Keys are only ever added, never
// removed, so last-write-wins between concurrent flushes is safe per key.
package progress
