/*
 * LEDCast
 *
 * Copyright 2020 Matthias Ladkau. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the MIT
 * License, If a copy of the MIT License was not distributed with this
 * file, You can obtain one at https://opensource.org/licenses/MIT.
 */

package main

import (
	"encoding/binary"
	"flag"
	"math"
	"os"
	"testing"

	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/ledcast"
)

const sdir = "servertest"

func TestLEDCastMain(t *testing.T) {

	// Make the fatal a simple print

	fatal = print

	// Pretend the host environment variable is not set

	lookupEnv = func(string) (string, bool) {
		return "", false
	}

	// Make sure out.txt and the fixture directory are removed

	defer func() {
		lookupEnv = os.LookupEnv

		if res, _ := fileutil.PathExists("out.txt"); res {
			os.Remove("out.txt")
		}
		if res, _ := fileutil.PathExists(sdir); res {
			os.RemoveAll(sdir)
		}
	}()

	// Reset flags

	flag.CommandLine = &flag.FlagSet{}

	// Test usage text

	os.Args = []string{"ledcast", "-?", "-port", "9000", "test"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	if ret, err := execMain(); err != nil || ret != `
LEDCast `[1:]+ledcast.ProductVersion+`
Usage of ledcast [options] <frame file>
  -?	Show this help message
  -ddp
    	Wrap each frame in a DDP datagram
  -debug
    	Enable extra debugging output
  -devices string
    	Run a session for each entry of a device map file
  -format string
    	Frame file format: timed, fixed or ambi (default "fixed")
  -host string
    	Target device hostname
  -leds int
    	Number of LEDs per frame (fixed format) (default 150)
  -poll int
    	Frame wait granularity in milliseconds (default 1)
  -port string
    	Target device UDP port (default "19446")
  -rate float
    	Frame rate in frames per second (fixed format) (default 25)
  -start float
    	Start time offset in seconds (fixed format)

The target host can also be defined via the environment variable: LEDCAST_HOST="<host>"
` {
		t.Error("Unexpected output:", "#"+ret+"#", err)
		return
	}

	// Test that a missing target host is reported

	os.Args = []string{"ledcast", "test.bin"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	if ret, err := execMain(); err != nil || ret != `
LEDCast `[1:]+ledcast.ProductVersion+`
No target host specified
` {
		t.Error("Unexpected output:", ret, err)
		return
	}

	// Test that a missing frame file is reported

	os.Args = []string{"ledcast", "-host", "localhost", "nosuch.bin"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	if ret, err := execMain(); err != nil || ret != `
LEDCast `[1:]+ledcast.ProductVersion+`
Streaming nosuch.bin to localhost:19446 (fixed)
Poll interval: 1ms
open nosuch.bin: no such file or directory
Shutting down
` {
		t.Error("Unexpected output:", ret, err)
		return
	}
}

func TestLEDCastMainSessions(t *testing.T) {

	fatal = print

	defer func() {
		lookupEnv = os.LookupEnv

		if res, _ := fileutil.PathExists("out.txt"); res {
			os.Remove("out.txt")
		}
	}()

	os.Mkdir(sdir, 0770)
	defer func() {
		os.RemoveAll(sdir)
	}()

	// One fixed-rate frame and one timed record

	os.WriteFile(sdir+"/frames.bin", make([]byte, 450), 0644)

	rec := make([]byte, 13)
	binary.LittleEndian.PutUint64(rec[:8], math.Float64bits(0))
	binary.LittleEndian.PutUint16(rec[8:10], 3)
	copy(rec[10:], "abc")

	os.WriteFile(sdir+"/timed.bin", rec, 0644)

	os.WriteFile(sdir+"/devices.yaml", []byte(`
test-device:
  target: "127.0.0.1:19446"
  path: `+sdir+`/frames.bin
  format: fixed
  rate: 25
  leds: 150
`), 0644)

	// Play a device map entry to completion

	os.Args = []string{"ledcast", "-devices", sdir + "/devices.yaml"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	if ret, err := execMain(); err != nil || ret != `
LEDCast `[1:]+ledcast.ProductVersion+`
Streaming `+sdir+`/frames.bin to 127.0.0.1:19446 (fixed)
Poll interval: 1ms
test-device: Completed (1 frames sent)
Shutting down
` {
		t.Error("Unexpected output:", ret, err)
		return
	}

	if sessions["test-device"].Status() != ledcast.StatusCompleted {
		t.Error("Unexpected session status:", sessions["test-device"].Status())
		return
	}

	// Play a single stream with the target host from the environment

	lookupEnv = func(name string) (string, bool) {
		if name == "LEDCAST_HOST" {
			return "127.0.0.1", true
		}
		return "", false
	}

	os.Args = []string{"ledcast", "-format", "timed", sdir + "/timed.bin"}
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	if ret, err := execMain(); err != nil || ret != `
LEDCast `[1:]+ledcast.ProductVersion+`
Streaming `+sdir+`/timed.bin to 127.0.0.1:19446 (timed)
Poll interval: 1ms
`+sdir+`/timed.bin: Completed (1 frames sent)
Shutting down
` {
		t.Error("Unexpected output:", ret, err)
		return
	}
}

/*
Execute the main function and capture the output.
*/
func execMain() (string, error) {

	// Exchange stderr to a file

	origStdErr := os.Stderr
	outFile, err := os.Create("out.txt")
	if err != nil {
		return "", err
	}
	defer func() {
		outFile.Close()
		os.RemoveAll("out.txt")

		// Put Stderr back

		os.Stderr = origStdErr
	}()

	os.Stderr = outFile

	main()

	outFile.Sync()

	out, err := os.ReadFile("out.txt")
	if err != nil {
		return "", err
	}

	return string(out), nil
}
