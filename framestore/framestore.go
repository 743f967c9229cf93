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
Package framestore contains the default frame source implementations.

All sources read a binary frame file sequentially and turn it into a
lazy sequence of timed frame records. A source is not restartable in
the middle of a sequence - rewinding means opening a fresh source.

Three file layouts are supported (little-endian byte order throughout):

TimedSource reads explicit-timestamp records:

	repeat until EOF:
	  float64  due time in seconds, relative to stream start
	  uint16   payload length
	  byte[n]  payload (raw color bytes)

FixedRateSource reads raw frames of a constant size (led count * 3
bytes). Frame timing is implicit: due time = frame index / frame rate.
Playback can start mid-file via SeekToTime.

AmbiSource reads an AMBI container: a fixed file header followed by
explicit-timestamp records as in TimedSource.

	byte[4]  magic "AMBI"
	uint16   frames per second
	uint16   led count
	uint8    pixel format (1 = RGBW)
	uint16   device pixel offset

SourceFactory

SourceFactory is a FrameSourceFactory which produces a frame source for
each entry of a device map. The map assigns each stream name a target
device and the frame file to play and can be read from a YAML file:

	living-room:
	  target: "10.0.0.17:19446"
	  path: "/data/movie.bin"
	  format: fixed
	  rate: 25
	  leds: 150
*/
package framestore

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"devt.de/krotik/ledcast"
	"gopkg.in/yaml.v3"
)

/*
Supported frame file formats
*/
const (
	FormatTimed = "timed"
	FormatFixed = "fixed"
	FormatAmbi  = "ambi"
)

/*
ambiMagic is the magic marker of an AMBI container file
*/
const ambiMagic = "AMBI"

/*
ambiHeaderSize is the size of an AMBI container file header
*/
const ambiHeaderSize = 11

// Timed source
// ============

/*
TimedSource data structure
*/
type TimedSource struct {
	path   string   // Path of the frame file
	file   *os.File // Open file handle
	offset int64    // Byte offset of the next unread element
}

/*
NewTimedSource opens a frame file of explicit-timestamp records.
*/
func NewTimedSource(path string) (*TimedSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &TimedSource{path, file, 0}, nil
}

/*
Name is the name of the frame source.
*/
func (ts *TimedSource) Name() string {
	return ts.path
}

/*
Offset returns the current byte offset in the frame file.
*/
func (ts *TimedSource) Offset() int64 {
	return ts.offset
}

/*
Next returns the next frame record of the stream.
*/
func (ts *TimedSource) Next() (ledcast.FrameRecord, error) {
	var rec ledcast.FrameRecord

	// A zero byte read where a record should start is a clean end of
	// stream - anything shorter than a full field is a truncation

	due := make([]byte, 8)

	if _, err := io.ReadFull(ts.file, due); err == io.EOF {
		return rec, ledcast.ErrEndOfStream
	} else if err != nil {
		return rec, ts.truncated()
	}
	ts.offset += 8

	plen := make([]byte, 2)

	if _, err := io.ReadFull(ts.file, plen); err != nil {
		return rec, ts.truncated()
	}
	ts.offset += 2

	payload := make([]byte, binary.LittleEndian.Uint16(plen))

	if _, err := io.ReadFull(ts.file, payload); err != nil {
		return rec, ts.truncated()
	}
	ts.offset += int64(len(payload))

	rec.DueTime = math.Float64frombits(binary.LittleEndian.Uint64(due))
	rec.Payload = payload

	return rec, nil
}

/*
ReleaseFrame releases a frame payload which has been sent.
*/
func (ts *TimedSource) ReleaseFrame([]byte) {
}

/*
Close the open frame file of this source.
*/
func (ts *TimedSource) Close() error {
	var err error

	if ts.file != nil {
		err = ts.file.Close()
		ts.file = nil
	}

	return err
}

/*
truncated returns a TruncatedError pointing at the element which could
not be read completely.
*/
func (ts *TimedSource) truncated() error {
	return &ledcast.TruncatedError{Path: ts.path, Offset: ts.offset}
}

// Fixed-rate source
// =================

/*
FixedRateSource data structure
*/
type FixedRateSource struct {
	path      string     // Path of the frame file
	file      *os.File   // Open file handle
	frameRate float64    // Frames per second
	frameSize int        // Size of one frame in bytes
	index     int64      // Index of the next unread frame
	offset    int64      // Byte offset of the next unread frame
	framePool *sync.Pool // Pool for frame buffers
}

/*
NewFixedRateSource opens a frame file of raw fixed-rate frames. Each
frame is ledCount * 3 bytes (one RGB triplet per LED).
*/
func NewFixedRateSource(path string, frameRate float64, ledCount int) (*FixedRateSource, error) {

	if frameRate <= 0 {
		return nil, fmt.Errorf("Invalid frame rate: %v", frameRate)
	} else if ledCount <= 0 {
		return nil, fmt.Errorf("Invalid led count: %v", ledCount)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	frameSize := ledCount * 3

	return &FixedRateSource{path, file, frameRate, frameSize, 0, 0,
		&sync.Pool{New: func() interface{} { return make([]byte, frameSize) }}}, nil
}

/*
SeekToTime positions the source at the frame which is due at the given
start time (seconds). Seeking past the end of the file is not an error -
the next read returns a clean end of stream. A start time of zero or
less is a no-op.
*/
func (fs *FixedRateSource) SeekToTime(start float64) error {
	if start <= 0 {
		return nil
	}

	startFrame := int64(math.Floor(start * fs.frameRate))
	offset := startFrame * int64(fs.frameSize)

	if _, err := fs.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	fs.index = startFrame
	fs.offset = offset

	return nil
}

/*
Name is the name of the frame source.
*/
func (fs *FixedRateSource) Name() string {
	return fs.path
}

/*
Offset returns the current byte offset in the frame file.
*/
func (fs *FixedRateSource) Offset() int64 {
	return fs.offset
}

/*
FrameSize returns the size of one frame in bytes.
*/
func (fs *FixedRateSource) FrameSize() int {
	return fs.frameSize
}

/*
Next returns the next frame record of the stream. The due time is
derived from the frame index: index / frame rate.
*/
func (fs *FixedRateSource) Next() (ledcast.FrameRecord, error) {
	var rec ledcast.FrameRecord

	frame := fs.framePool.Get().([]byte)

	if _, err := io.ReadFull(fs.file, frame); err != nil {
		fs.framePool.Put(frame)

		if err == io.EOF {
			return rec, ledcast.ErrEndOfStream
		}

		// A partial trailing frame means the producer was interrupted

		return rec, &ledcast.TruncatedError{Path: fs.path, Offset: fs.offset}
	}

	rec.DueTime = float64(fs.index) / fs.frameRate
	rec.Payload = frame

	fs.index++
	fs.offset += int64(fs.frameSize)

	return rec, nil
}

/*
ReleaseFrame releases a frame payload which has been sent.
*/
func (fs *FixedRateSource) ReleaseFrame(frame []byte) {
	if len(frame) == fs.frameSize {
		fs.framePool.Put(frame)
	}
}

/*
Close the open frame file of this source.
*/
func (fs *FixedRateSource) Close() error {
	var err error

	if fs.file != nil {
		err = fs.file.Close()
		fs.file = nil
	}

	return err
}

// AMBI container source
// =====================

/*
AmbiSource data structure
*/
type AmbiSource struct {
	*TimedSource
	fps          int  // Frames per second as declared by the producer
	ledCount     int  // Number of LEDs per frame
	rgbw         bool // Flag if payloads carry 4 bytes per LED
	deviceOffset int  // Pixel offset of the first LED on the device
}

/*
NewAmbiSource opens an AMBI container file.
*/
func NewAmbiSource(path string) (*AmbiSource, error) {
	ts, err := NewTimedSource(path)
	if err != nil {
		return nil, err
	}

	as := &AmbiSource{TimedSource: ts}

	if err := as.readHeader(); err != nil {
		ts.Close()
		return nil, err
	}

	return as, nil
}

/*
readHeader reads and validates the AMBI container header.
*/
func (as *AmbiSource) readHeader() error {
	header := make([]byte, ambiHeaderSize)

	if _, err := io.ReadFull(as.file, header); err != nil {
		return fmt.Errorf("Invalid frame file %v: %v", as.path, err)
	}

	if string(header[:4]) != ambiMagic {
		return fmt.Errorf("Invalid frame file %v: bad magic marker", as.path)
	}

	as.fps = int(binary.LittleEndian.Uint16(header[4:6]))
	as.ledCount = int(binary.LittleEndian.Uint16(header[6:8]))
	as.rgbw = header[8] == 1
	as.deviceOffset = int(binary.LittleEndian.Uint16(header[9:11]))

	as.offset = ambiHeaderSize

	return nil
}

/*
FPS returns the frame rate declared by the producer.
*/
func (as *AmbiSource) FPS() int {
	return as.fps
}

/*
LEDCount returns the number of LEDs per frame.
*/
func (as *AmbiSource) LEDCount() int {
	return as.ledCount
}

/*
RGBW returns true if payloads carry 4 bytes per LED.
*/
func (as *AmbiSource) RGBW() bool {
	return as.rgbw
}

/*
DeviceOffset returns the pixel offset of the first LED on the device.
*/
func (as *AmbiSource) DeviceOffset() int {
	return as.deviceOffset
}

// Device map factory
// ==================

/*
Device is one entry of a device map file.
*/
type Device struct {
	Target string  `yaml:"target"` // Target device as <host>:<port>
	Path   string  `yaml:"path"`   // Path of the frame file
	Format string  `yaml:"format"` // Frame file format: timed, fixed or ambi
	Rate   float64 `yaml:"rate"`   // Frame rate (fixed format)
	LEDs   int     `yaml:"leds"`   // Number of LEDs per frame (fixed format)
	Start  float64 `yaml:"start"`  // Start time offset in seconds (fixed format)
	DDP    bool    `yaml:"ddp"`    // Flag if frames should be wrapped in DDP datagrams
}

/*
SourceFactory data structure
*/
type SourceFactory struct {
	devices map[string]Device
}

/*
NewSourceFactory creates a new SourceFactory from a given device map.
*/
func NewSourceFactory(devices map[string]Device) (*SourceFactory, error) {

	for name, dev := range devices {
		if err := checkDevice(name, dev); err != nil {
			return nil, err
		}
	}

	return &SourceFactory{devices}, nil
}

/*
NewFileSourceFactory creates a new SourceFactory from a given device
map file.
*/
func NewFileSourceFactory(path string) (*SourceFactory, error) {
	dm, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var devices map[string]Device

	if err = yaml.Unmarshal(dm, &devices); err != nil {
		return nil, err
	}

	return NewSourceFactory(devices)
}

/*
checkDevice validates a single device map entry.
*/
func checkDevice(name string, dev Device) error {

	if dev.Target == "" {
		return fmt.Errorf("Device %v has no target", name)
	} else if dev.Path == "" {
		return fmt.Errorf("Device %v has no frame file", name)
	}

	switch dev.Format {
	case FormatFixed:
		if dev.Rate <= 0 || dev.LEDs <= 0 {
			return fmt.Errorf("Device %v needs a frame rate and a led count", name)
		}

	case FormatTimed, FormatAmbi:
		if dev.Start > 0 {
			return fmt.Errorf("Device %v: start offsets require the fixed format", name)
		}

	default:
		return fmt.Errorf("Device %v has an unknown frame format: %v", name, dev.Format)
	}

	return nil
}

/*
Devices returns all entries of the device map.
*/
func (ff *SourceFactory) Devices() map[string]Device {
	return ff.devices
}

/*
Source returns a frame source for a given stream name.
*/
func (ff *SourceFactory) Source(name string) (ledcast.FrameSource, error) {
	dev, ok := ff.devices[name]

	if !ok {
		return nil, fmt.Errorf("Unknown device: %v", name)
	}

	return NewSource(dev)
}

/*
NewSource opens the frame source described by a device map entry.
*/
func NewSource(dev Device) (ledcast.FrameSource, error) {

	switch dev.Format {

	case FormatTimed:
		return NewTimedSource(dev.Path)

	case FormatAmbi:
		return NewAmbiSource(dev.Path)

	case FormatFixed:
		src, err := NewFixedRateSource(dev.Path, dev.Rate, dev.LEDs)

		if err == nil {
			if err = src.SeekToTime(dev.Start); err != nil {
				src.Close()
			}
		}

		if err != nil {
			return nil, err
		}

		return src, nil
	}

	return nil, fmt.Errorf("Unknown frame format: %v", dev.Format)
}
