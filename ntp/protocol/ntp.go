/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package protocol implements the NTP packet and basic functions to work with.
It provides quick and transparent translation between 48 bytes and
simply accessible struct in the most efficient way.
*/
package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// NanosecondsToUnix is the difference between NTP and Unix epoch in NS
const NanosecondsToUnix = int64(2208988800000000000)

// Time is converting Unix time to sec and frac NTP format.
// The fraction is rounded to the nearest 1/2^32 step.
func Time(t time.Time) (seconds uint32, fractions uint32) {
	nsec := t.UnixNano() + NanosecondsToUnix
	sec := nsec / time.Second.Nanoseconds()
	rem := nsec - sec*time.Second.Nanoseconds()
	return uint32(sec), uint32((rem<<32 + time.Second.Nanoseconds()/2) / time.Second.Nanoseconds())
}

// Unix is converting NTP seconds and fractions into Unix time
func Unix(seconds, fractions uint32) time.Time {
	secs := int64(seconds) - NanosecondsToUnix/time.Second.Nanoseconds()
	nanos := (int64(fractions) * time.Second.Nanoseconds()) >> 32 // convert fractional to nanos
	return time.Unix(secs, nanos)
}

// Offset returns the estimated offset between the local and the remote clock
// using the four-timestamp formula: ((T2-T1)+(T3-T4))/2 where
// T1 = client transmit, T2 = server receive, T3 = server transmit,
// T4 = client receive. Positive when the remote clock is ahead. Nanoseconds.
func Offset(clientTransmitTime, serverReceiveTime, serverTransmitTime, clientReceiveTime time.Time) int64 {
	forwardPath := serverReceiveTime.Sub(clientTransmitTime).Nanoseconds()
	returnPath := serverTransmitTime.Sub(clientReceiveTime).Nanoseconds()

	return (forwardPath + returnPath) / 2
}

// RoundTripDelay returns the network round trip time estimated from the same
// four timestamps as Offset, excluding the server processing time. Nanoseconds.
func RoundTripDelay(clientTransmitTime, serverReceiveTime, serverTransmitTime, clientReceiveTime time.Time) int64 {
	total := clientReceiveTime.Sub(clientTransmitTime).Nanoseconds()
	server := serverTransmitTime.Sub(serverReceiveTime).Nanoseconds()

	return total - server
}

// CorrectTime returns the local time adjusted by the measured offset
func CorrectTime(localTime time.Time, offset int64) time.Time {
	return localTime.Add(time.Duration(offset) * time.Nanosecond)
}

// MakeRefID packs a reference identifier string into the wire uint32,
// space-padded to 4 characters the way stratum-1 servers do
func MakeRefID(refid string) uint32 {
	return binary.BigEndian.Uint32([]byte(fmt.Sprintf("%-4s", refid)))
}

// RefIDToString renders the reference identifier field. For stratum 0 and 1
// it is 4 ASCII characters naming the reference clock, for everything else
// it is the IPv4 address of the upstream server.
func RefIDToString(refid uint32, stratum uint8) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, refid)
	if stratum <= 1 {
		out := make([]byte, 0, 4)
		for _, c := range b {
			if c > 0x20 && c < 0x7f {
				out = append(out, c)
			}
		}
		return string(out)
	}
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}
