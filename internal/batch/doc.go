// Package batch computes an ordered list of outputs from an ordered list of
// inputs when the underlying producer only accepts bounded batches.
//
// A [Dispatcher] partitions the inputs into contiguous batches, runs up to
// a fixed number of them concurrently, retries a failing batch with a fixed
// backoff and writes each batch's outputs to its own slot, so completion
// order never affects placement. The flattened result always has exactly
// one output per input.
//
// A producer that returns too few outputs is not treated as a failure: the
// batch is padded (zero values, or a caller-supplied [PadFunc]) and a
// warning is logged. A producer that fails on every attempt fails the whole
// dispatch, because an index built from a partial corpus is worse than no
// index.
//
//	d := batch.NewDispatcher(client.Embed, zeroVector,
//	    batch.WithBatchSize(10),
//	    batch.WithConcurrency(4),
//	)
//	vectors, err := d.Dispatch(ctx, texts)
package batch
