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
Package nmea decodes ASCII navigation sentences into typed fix records.
Only the two sentence kinds a time server needs are understood: RMC
(date+time+validity) and GGA (fix quality + satellite count). Everything
else is reported as unsupported and left to the caller to count and drop.
*/
package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the sentence type a Fix was decoded from
type Kind int

// Supported sentence kinds
const (
	KindRMC Kind = iota + 1 // recommended minimum: date, time, validity
	KindGGA                 // fix data: quality, satellites, HDOP
)

func (k Kind) String() string {
	switch k {
	case KindRMC:
		return "RMC"
	case KindGGA:
		return "GGA"
	}
	return "UNKNOWN"
}

// ErrMalformed is returned for sentences that look like NMEA but don't parse
var ErrMalformed = errors.New("malformed nmea sentence")

// ErrUnsupported is returned for well-formed sentences of kinds we don't decode
var ErrUnsupported = errors.New("unsupported nmea sentence")

// MaxFixQuality is the highest GGA fix quality code (8 = simulation mode)
const MaxFixQuality = 8

// Fix is one decoded sentence. Which fields are meaningful depends on Kind:
// RMC carries Time/HasTime/Valid, GGA carries Quality/Satellites/HDOP.
type Fix struct {
	Kind       Kind
	Time       time.Time
	HasTime    bool
	Valid      bool
	Quality    int
	Satellites int
	HDOP       float64
}

// Parse decodes one line into a Fix. The line must carry a complete sentence
// including the leading '$'; a trailing checksum is verified when present.
func Parse(line string) (*Fix, error) {
	line = strings.TrimSpace(line)
	if len(line) < 7 || line[0] != '$' {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	payload := line[1:]
	if i := strings.LastIndexByte(payload, '*'); i >= 0 {
		want, err := strconv.ParseUint(payload[i+1:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad checksum field in %q", ErrMalformed, line)
		}
		if got := checksum(payload[:i]); got != byte(want) {
			return nil, fmt.Errorf("%w: checksum mismatch in %q: %02X != %02X", ErrMalformed, line, got, want)
		}
		payload = payload[:i]
	}

	fields := strings.Split(payload, ",")
	talker := fields[0]
	if len(talker) < 5 {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	switch talker[len(talker)-3:] {
	case "RMC":
		return parseRMC(fields)
	case "GGA":
		return parseGGA(fields)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, talker)
}

// checksum is the XOR of all payload bytes between '$' and '*'
func checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	return sum
}

// parseRMC decodes $xxRMC,time,status,lat,NS,lon,EW,spd,cog,date,...
func parseRMC(fields []string) (*Fix, error) {
	if len(fields) < 10 {
		return nil, fmt.Errorf("%w: RMC needs 10 fields, got %d", ErrMalformed, len(fields))
	}
	fix := &Fix{Kind: KindRMC}
	switch fields[2] {
	case "A":
		fix.Valid = true
	case "V", "":
		fix.Valid = false
	default:
		return nil, fmt.Errorf("%w: RMC status %q", ErrMalformed, fields[2])
	}
	if fields[1] != "" && fields[9] != "" {
		t, err := parseDateTime(fields[9], fields[1])
		if err != nil {
			return nil, err
		}
		fix.Time = t
		fix.HasTime = true
	}
	return fix, nil
}

// parseGGA decodes $xxGGA,time,lat,NS,lon,EW,quality,numSV,HDOP,...
func parseGGA(fields []string) (*Fix, error) {
	if len(fields) < 9 {
		return nil, fmt.Errorf("%w: GGA needs 9 fields, got %d", ErrMalformed, len(fields))
	}
	fix := &Fix{Kind: KindGGA}
	if fields[6] != "" {
		q, err := strconv.Atoi(fields[6])
		if err != nil || q < 0 || q > MaxFixQuality {
			return nil, fmt.Errorf("%w: GGA quality %q", ErrMalformed, fields[6])
		}
		fix.Quality = q
	}
	fix.Valid = fix.Quality > 0
	if fields[7] != "" {
		n, err := strconv.Atoi(fields[7])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: GGA satellites %q", ErrMalformed, fields[7])
		}
		fix.Satellites = n
	}
	if fields[8] != "" {
		h, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: GGA HDOP %q", ErrMalformed, fields[8])
		}
		fix.HDOP = h
	}
	return fix, nil
}

// parseDateTime combines ddmmyy and hhmmss.sss into a UTC timestamp
func parseDateTime(date, clock string) (time.Time, error) {
	if len(date) != 6 {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformed, date)
	}
	day, err1 := strconv.Atoi(date[0:2])
	month, err2 := strconv.Atoi(date[2:4])
	year, err3 := strconv.Atoi(date[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrMalformed, date)
	}

	if len(clock) < 6 {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformed, clock)
	}
	hour, err1 := strconv.Atoi(clock[0:2])
	minute, err2 := strconv.Atoi(clock[2:4])
	second, err3 := strconv.Atoi(clock[4:6])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformed, clock)
	}
	nanos := 0
	if len(clock) > 7 && clock[6] == '.' {
		frac, err := strconv.ParseFloat(clock[6:], 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time %q", ErrMalformed, clock)
		}
		nanos = int(frac * float64(time.Second))
	}

	t := time.Date(2000+year, time.Month(month), day, hour, minute, second, nanos, time.UTC)
	if t.Day() != day || int(t.Month()) != month || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, fmt.Errorf("%w: date/time %q %q out of range", ErrMalformed, date, clock)
	}
	return t, nil
}
