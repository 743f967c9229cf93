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
LEDCast main entry point for the standalone player.

Features:

- Plays pre-rendered LED frame files to WLED-style devices over UDP.

- Supports explicit-timestamp, fixed-rate and AMBI container frame files.

- Can drive several devices at once via a YAML device map file.

- Optional DDP framing for devices which expect DDP datagrams.
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"devt.de/krotik/ledcast"
	"devt.de/krotik/ledcast/framestore"
)

// Global variables
// ================

/*
Known configuration options for LEDCast
*/
const (
	TargetPort   = "TargetPort"
	FrameFormat  = "FrameFormat"
	FrameRate    = "FrameRate"
	LEDCount     = "LEDCount"
	PollInterval = "PollInterval"
)

/*
DefaultConfig is the default configuration
*/
var DefaultConfig = map[string]interface{}{
	TargetPort:   "19446",
	FrameFormat:  framestore.FormatFixed,
	FrameRate:    25.0,
	LEDCount:     150,
	PollInterval: 1,
}

type consolelogger func(v ...interface{})

/*
Fatal/print logger methods. Using a custom type so we can test calls with unit
tests.
*/
var fatal = consolelogger(log.Fatal)
var print = consolelogger(func(a ...interface{}) {
	fmt.Fprint(os.Stderr, a...)
	fmt.Fprint(os.Stderr, "\n")
})

var lookupEnv func(string) (string, bool) = os.LookupEnv

/*
Running LEDCast sessions by stream name (used by unit tests)
*/
var sessions map[string]*ledcast.Session

/*
Main entry point for LEDCast.
*/
func main() {
	var err error
	var factory *framestore.SourceFactory

	print(fmt.Sprintf("LEDCast %v", ledcast.ProductVersion))

	host := flag.String("host", "", "Target device hostname")
	port := flag.String("port", DefaultConfig[TargetPort].(string), "Target device UDP port")
	format := flag.String("format", DefaultConfig[FrameFormat].(string), "Frame file format: timed, fixed or ambi")
	rate := flag.Float64("rate", DefaultConfig[FrameRate].(float64), "Frame rate in frames per second (fixed format)")
	leds := flag.Int("leds", DefaultConfig[LEDCount].(int), "Number of LEDs per frame (fixed format)")
	start := flag.Float64("start", 0, "Start time offset in seconds (fixed format)")
	poll := flag.Int("poll", DefaultConfig[PollInterval].(int), "Frame wait granularity in milliseconds")
	useDDP := flag.Bool("ddp", false, "Wrap each frame in a DDP datagram")
	deviceMap := flag.String("devices", "", "Run a session for each entry of a device map file")
	enableDebug := flag.Bool("debug", false, "Enable extra debugging output")
	showHelp := flag.Bool("?", false, "Show this help message")

	flag.Usage = func() {
		print(fmt.Sprintf("Usage of %s [options] <frame file>", os.Args[0]))
		flag.PrintDefaults()
		print()
		print(fmt.Sprint("The target host can also be defined via the environment variable: LEDCAST_HOST=\"<host>\""))
	}

	flag.Parse()

	singleMode := *deviceMap == ""

	if *showHelp || (singleMode && len(flag.Args()) != 1) ||
		(!singleMode && len(flag.Args()) != 0) {
		flag.Usage()
		return
	}

	ledcast.DebugOutput = *enableDebug

	if singleMode {

		// Check for host environment variable

		if envHost, ok := lookupEnv("LEDCAST_HOST"); ok && *host == "" {
			*host = envHost
		}

		if *host == "" {
			err = fmt.Errorf("No target host specified")

		} else {

			factory, err = framestore.NewSourceFactory(map[string]framestore.Device{
				flag.Arg(0): {
					Target: net.JoinHostPort(*host, *port),
					Path:   flag.Arg(0),
					Format: *format,
					Rate:   *rate,
					LEDs:   *leds,
					Start:  *start,
					DDP:    *useDDP,
				},
			})
		}

	} else {

		factory, err = framestore.NewFileSourceFactory(*deviceMap)
	}

	if err == nil {
		devices := factory.Devices()

		for _, name := range deviceNames(devices) {
			print(fmt.Sprintf("Streaming %v to %v (%v)", devices[name].Path,
				devices[name].Target, devices[name].Format))
		}
		print(fmt.Sprintf("Poll interval: %vms", *poll))

		defer print("Shutting down")

		err = runSessions(factory, devices, time.Duration(*poll)*time.Millisecond)
	}

	if err != nil {
		fatal(err)
	}
}

/*
runSessions runs one playback session per device map entry. It blocks
until all sessions have reached a terminal status. A SIGINT (^C)
cancels all running sessions.
*/
func runSessions(factory ledcast.FrameSourceFactory,
	devices map[string]framestore.Device, poll time.Duration) error {

	var wg sync.WaitGroup
	var lock sync.Mutex
	var setupErr error

	runErrs := make(map[string]error)
	sessions = make(map[string]*ledcast.Session)

	// Attach SIGINT handler - on unix and windows this is send
	// when the user presses ^C (Control-C).

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)

	defer signal.Stop(sigs)

	go func() {
		for range sigs {
			lock.Lock()
			for _, s := range sessions {
				s.Cancel()
			}
			lock.Unlock()
		}
	}()

	names := deviceNames(devices)

	for _, name := range names {
		var conn net.Conn

		dev := devices[name]

		src, err := factory.Source(name)

		if err == nil {
			if conn, err = ledcast.Dial(dev.Target); err != nil {
				src.Close()
			}
		}

		if err != nil {
			setupErr = err
			break
		}

		sess := ledcast.NewSession(src, conn)
		sess.PollInterval = poll

		if dev.DDP {
			sess.Wrapper = ledcast.DDPWrapper(0)
		}

		lock.Lock()
		sessions[name] = sess
		lock.Unlock()

		// Kick off the session thread

		wg.Add(1)

		go func(name string, sess *ledcast.Session) {
			defer wg.Done()

			if err := sess.Run(); err != nil {
				lock.Lock()
				runErrs[name] = err
				lock.Unlock()
			}
		}(name, sess)
	}

	if setupErr != nil {

		// A session could not be set up - take down the ones already running

		lock.Lock()
		for _, s := range sessions {
			s.Cancel()
		}
		lock.Unlock()
	}

	wg.Wait()

	for _, name := range names {
		if sess, ok := sessions[name]; ok {
			print(fmt.Sprintf("%v: %v (%v frames sent)", name, sess.Status(),
				sess.FramesSent()))
		}
	}

	if setupErr != nil {
		return setupErr
	}

	for _, name := range names {
		if err, ok := runErrs[name]; ok {
			return err
		}
	}

	return nil
}

/*
deviceNames returns the names of a device map in a stable order.
*/
func deviceNames(devices map[string]framestore.Device) []string {
	names := make([]string, 0, len(devices))

	for name := range devices {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
