// Package video defines the frame types shared by every stage of the
// LayerMapper-NDI pipeline.
//
// Two types cross package boundaries:
//
//   - RawFrame: a borrowed view of a frame still owned by a frame source. Its
//     Data slice is valid only until the next call into the source.
//   - PixelFrame: an owned, immutable BGRA8888 frame produced by the
//     normalizer and moved through the ring buffer to the display pacer.
//
// # Ownership
//
// A PixelFrame is exclusively held by one component at a time:
//
//	receiver (producer) → ring slot → pacer (consumer) → sink
//
// Its pixel buffer is never written after construction. Transformations
// (rotation, re-tagging, sequencing) always return a new PixelFrame.
package video
