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

import "log"

/*
DebugOutput is a flag to enable additional debugging output
*/
var DebugOutput = false

/*
Print is the print method which is used for all debug output. The
variable exists so unit tests can collect the output.
*/
var Print = log.Print

/*
DebugLogger is the interface for debug logging objects.
*/
type DebugLogger interface {

	/*
	   IsDebugOutputEnabled returns true if debug output should be printed.
	*/
	IsDebugOutputEnabled() bool

	/*
	   PrintDebug will print debug output if DebugOutput is enabled.
	*/
	PrintDebug(v ...interface{})
}
