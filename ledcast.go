/*
 * LEDCast
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the MIT
 * License, If a copy of the MIT License was not distributed with this
 * file, You can obtain one at https://opensource.org/licenses/MIT.
 */

/*
Package ledcast is a timed frame streaming player for WLED-style LED
controllers. It reads pre-rendered LED color frames from a binary file
and emits each frame as a UDP datagram at its due wall-clock time.

Session

Session is the realtime dispatcher. It consumes frames from a
FrameSource and sends each payload to a fixed UDP destination once the
frame's due time has elapsed relative to the session start. A frame is
never sent early; under system load it may be sent late. Sessions are
independent of each other: each one owns its frame source, its socket
and its clock reference.

FrameSource

FrameSource objects provide the dispatcher with a lazy, finite sequence
of frame records. Each record carries a due time (seconds from stream
start) and an opaque payload (raw color bytes in the wiring order of
the target device). The framestore package contains the default file
based implementations.

A FrameSourceFactory produces a FrameSource for each new session.
*/
package ledcast

import (
	"errors"
	"fmt"
)

/*
ProductVersion is the current version of LEDCast
*/
const ProductVersion = "1.0.0"

/*
ErrEndOfStream is a special error code which signals that the end of the
frame stream has been reached
*/
var ErrEndOfStream = errors.New("End of stream")

/*
FrameRecord is a single frame of the stream. DueTime is the offset in
seconds, relative to the session start, at which the payload should be
sent. The payload are raw color bytes (including any device specific
protocol byte the producer stored).
*/
type FrameRecord struct {
	DueTime float64
	Payload []byte
}

/*
FrameSource is an object which provides a dispatcher with a sequence
of timed frame records.
*/
type FrameSource interface {

	/*
	   Name is the name of the frame source (usually the file path).
	*/
	Name() string

	/*
		Next returns the next frame record of the stream. It returns
		ErrEndOfStream once the stream is exhausted and a TruncatedError
		if the stream ends in the middle of a record.
	*/
	Next() (FrameRecord, error)

	/*
		ReleaseFrame releases a frame payload which has been sent.
	*/
	ReleaseFrame([]byte)

	/*
		Offset returns the current byte offset in the underlying stream.
	*/
	Offset() int64

	/*
		Close any open files of this frame source.
	*/
	Close() error
}

/*
FrameSourceFactory produces a FrameSource for a given stream name.
*/
type FrameSourceFactory interface {

	/*
		Source returns a frame source for a given stream name.
	*/
	Source(name string) (FrameSource, error)
}

/*
TruncatedError is returned if a frame file ends in the middle of a
record. Offset is the byte offset at which the incomplete element
begins - it points at the data an interrupted producer failed to write.
*/
type TruncatedError struct {
	Path   string // Path of the frame file
	Offset int64  // Byte offset where the truncation was detected
}

/*
Error returns a human-readable string representation of this error.
*/
func (te *TruncatedError) Error() string {
	return fmt.Sprintf("Truncated record in %v at offset %v", te.Path, te.Offset)
}

/*
DeliveryError is returned if a frame payload could not be sent. Frame
is the index of the frame whose delivery failed. The dispatcher never
retries a failed datagram - a stale retransmitted frame would be worse
than a skipped one.
*/
type DeliveryError struct {
	Frame uint64 // Index of the frame whose delivery failed
	Err   error  // Underlying socket error - may be nil for a short write
}

/*
Error returns a human-readable string representation of this error.
*/
func (de *DeliveryError) Error() string {
	if de.Err == nil {
		return fmt.Sprintf("Could not deliver frame %v: short write", de.Frame)
	}
	return fmt.Sprintf("Could not deliver frame %v: %v", de.Frame, de.Err)
}
