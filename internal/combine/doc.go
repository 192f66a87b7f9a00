// Package combine merges ordered per-chunk output files into the final
// export via the external transcoder's concat demuxer. The first attempt is
// a stream-copy; an output failing the size sanity check triggers exactly
// one re-encode fallback. Once combining starts the combiner owns the chunk
// files and removes them on every exit path.
package combine
