/*
 * LEDCast
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the MIT
 * License, If a copy of the MIT License was not distributed with this
 * file, You can obtain one at https://opensource.org/licenses/MIT.
 */

package ledcast

import "encoding/binary"

/*
PayloadWrapper is a function which adds device specific framing around
a raw frame payload before it is sent. By default a session sends the
stored payload unchanged - any protocol selector byte the target device
requires is expected to already be part of the stored payload.
*/
type PayloadWrapper func(payload []byte) []byte

/*
DDPHeaderSize is the size of a DDP v1 packet header

see: http://www.3waylabs.com/ddp/
*/
const DDPHeaderSize = 10

/*
DDP header field values for a push display packet carrying 24 bit RGB
pixel data.
*/
const (
	ddpFlagsPushV1 byte = 0x41 // Version 1 + push flag
	ddpDataRGB8    byte = 0x0d // Data type RGB (TTT=001), 24 bit per pixel (SSS=101)
	ddpIDDisplay   byte = 0x01 // Default display output
)

/*
DDPWrapper returns a PayloadWrapper which wraps each frame payload in a
DDP v1 display packet. pixelOffset is the byte offset of the first LED
on the target device.
*/
func DDPWrapper(pixelOffset uint32) PayloadWrapper {

	return func(payload []byte) []byte {
		packet := make([]byte, DDPHeaderSize+len(payload))

		packet[0] = ddpFlagsPushV1
		packet[1] = 0x00 // Sequence number (unused)
		packet[2] = ddpDataRGB8
		packet[3] = ddpIDDisplay

		binary.BigEndian.PutUint32(packet[4:8], pixelOffset)
		binary.BigEndian.PutUint16(packet[8:10], uint16(len(payload)))

		copy(packet[DDPHeaderSize:], payload)

		return packet
	}
}
