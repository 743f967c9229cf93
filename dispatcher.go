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

import (
	"net"
	"sync"
	"time"

	"devt.de/krotik/common/datautil"
	"github.com/google/uuid"
)

/*
DefaultPollInterval is the default granularity of the per-frame wait.
A session never blocks for the full remaining interval in one step -
it sleeps in slices of this size so cancellation stays responsive and
the worst-case lateness from coarse sleeps is bounded by roughly one
polling quantum.
*/
const DefaultPollInterval = time.Millisecond

/*
DNSCacheTimeout is the time in seconds a resolved target address stays
cached in Dial.
*/
const DNSCacheTimeout = 3600

/*
addrCache caches resolved target addresses so restarted sessions do not
resolve the same hostname again and again.
*/
var addrCache = datautil.NewMapCache(0, DNSCacheTimeout)

/*
Status of a session. Transitions are one-directional: Idle to Running
to one of the terminal statuses. There is no pause/resume - a paused
session is equivalent to a new session on a reopened frame source.
*/
type Status string

/*
Session statuses
*/
const (
	StatusIdle           Status = "Idle"
	StatusRunning        Status = "Running"
	StatusCompleted      Status = "Completed"
	StatusCorrupted      Status = "Corrupted"
	StatusCancelled      Status = "Cancelled"
	StatusDeliveryFailed Status = "DeliveryFailed"
)

/*
Session data structure
*/
type Session struct {
	ID                      string         // Unique identifier of this session
	PollInterval            time.Duration  // Granularity of the per-frame wait
	Wrapper                 PayloadWrapper // Optional per-datagram framing - may be nil
	ContinueOnDeliveryError bool           // Flag if delivery errors should only be logged

	source     FrameSource   // Frame source which is streamed
	conn       net.Conn      // Connected UDP socket to the target device
	status     Status        // Current session status
	framesSent uint64        // Number of datagrams sent so far
	cancel     chan struct{} // Channel for receiving the cancellation signal
	cancelOnce sync.Once     // Guard so Cancel can be called multiple times
	lock       sync.RWMutex  // Lock for status and framesSent
}

/*
NewSession creates a new playback session. The session takes exclusive
ownership of the given frame source and connection - both are closed
when the session reaches a terminal status.
*/
func NewSession(source FrameSource, conn net.Conn) *Session {
	return &Session{
		ID:           uuid.NewString(),
		PollInterval: DefaultPollInterval,
		source:       source,
		conn:         conn,
		status:       StatusIdle,
		cancel:       make(chan struct{}),
	}
}

/*
Dial opens a connected UDP socket to a target given as <host>:<port>.
Resolved addresses are cached for DNSCacheTimeout seconds.
*/
func Dial(target string) (net.Conn, error) {
	var addr *net.UDPAddr

	if cached, ok := addrCache.Get(target); ok {
		addr = cached.(*net.UDPAddr)

	} else {
		a, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			return nil, err
		}

		addrCache.Put(target, a)
		addr = a
	}

	return net.DialUDP("udp", nil, addr)
}

/*
Run plays the frame stream until it is exhausted or the session is
cancelled. The monotonic clock reference is captured once, before the
first frame is read. Each frame is sent as a single datagram once its
due time has elapsed - never earlier, possibly later.

Run returns nil after a clean end of stream and after a cancellation.
It returns a TruncatedError if the stream ends mid-record and a
DeliveryError if a datagram could not be sent while
ContinueOnDeliveryError is not set.

A due time far in the future is waited out like any other - the wait
is polled so Cancel stays effective throughout.
*/
func (s *Session) Run() error {
	s.setStatus(StatusRunning)

	defer func() {
		s.source.Close()
		s.conn.Close()
	}()

	s.PrintDebug("Session ", s.ID, " streaming ", s.source.Name())

	start := time.Now()

	for {

		// Check for cancellation before reading the next record

		select {
		case <-s.cancel:
			return s.finishCancelled()
		default:
		}

		rec, err := s.source.Next()

		if err == ErrEndOfStream {
			s.setStatus(StatusCompleted)
			s.PrintDebug("Session ", s.ID, " completed after ", s.FramesSent(), " frames")
			return nil

		} else if err != nil {

			// The frame file is corrupt or was written incompletely

			s.setStatus(StatusCorrupted)
			s.PrintDebug("Session ", s.ID, " aborted: ", err)
			return err
		}

		if s.waitUntilDue(start, rec.DueTime) {
			s.source.ReleaseFrame(rec.Payload)
			return s.finishCancelled()
		}

		data := rec.Payload
		if s.Wrapper != nil {
			data = s.Wrapper(data)
		}

		n, err := s.conn.Write(data)

		s.source.ReleaseFrame(rec.Payload)

		if err != nil || n < len(data) {
			derr := &DeliveryError{Frame: s.FramesSent(), Err: err}

			if !s.ContinueOnDeliveryError {
				s.setStatus(StatusDeliveryFailed)
				s.PrintDebug("Session ", s.ID, " aborted: ", derr)
				return derr
			}

			// Skip the frame - UDP has no delivery guarantee and a stale
			// retransmitted frame would be worse than a missing one

			s.PrintDebug(derr)
			continue
		}

		s.addFrameSent()
	}
}

/*
waitUntilDue waits until the given due time (seconds relative to start)
has elapsed. The wait happens in PollInterval slices. Returns true if
the session was cancelled during the wait.
*/
func (s *Session) waitUntilDue(start time.Time, due float64) bool {
	target := start.Add(time.Duration(due * float64(time.Second)))

	for {
		remaining := time.Until(target)

		if remaining <= 0 {
			return false
		}

		if remaining > s.PollInterval {
			remaining = s.PollInterval
		}

		select {
		case <-s.cancel:
			return true
		case <-time.After(remaining):
		}
	}
}

/*
Cancel requests a cooperative session shutdown. The signal is checked
once per frame and during frame waits; a send already in flight is not
aborted. Cancel may be called from any goroutine and more than once.
*/
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancel)
	})
}

/*
finishCancelled moves the session into the Cancelled terminal status.
Cancellation is a normal way to end a session, not an error.
*/
func (s *Session) finishCancelled() error {
	s.setStatus(StatusCancelled)
	s.PrintDebug("Session ", s.ID, " cancelled after ", s.FramesSent(), " frames")
	return nil
}

/*
Status returns the current session status.
*/
func (s *Session) Status() Status {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.status
}

/*
FramesSent returns the number of datagrams sent so far.
*/
func (s *Session) FramesSent() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.framesSent
}

/*
setStatus sets the current session status.
*/
func (s *Session) setStatus(status Status) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.status = status
}

/*
addFrameSent counts a sent datagram.
*/
func (s *Session) addFrameSent() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.framesSent++
}

/*
IsDebugOutputEnabled returns true if debug output should be printed.
*/
func (s *Session) IsDebugOutputEnabled() bool {
	return DebugOutput
}

/*
PrintDebug will print debug output if DebugOutput is enabled.
*/
func (s *Session) PrintDebug(v ...interface{}) {
	if DebugOutput {
		Print(v...)
	}
}
