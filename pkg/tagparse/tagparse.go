// Package tagparse extracts the first "[H:MM:SS(.fff)]" timestamp tag from
// a raw ingest line and converts it to a millisecond offset.
package tagparse

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNoTag is returned when a line has no closing bracket, or no opening
// bracket before the first closing one.
var ErrNoTag = errors.New("tagparse: no closing bracket in line")

// ErrMalformedTag is returned when the bracketed tag is not a valid
// H:MM:SS(.fff) timestamp.
var ErrMalformedTag = errors.New("tagparse: malformed timestamp tag")

// Split locates the first '[' ... ']' pair in line and returns the tag text
// between the brackets (exclusive) and the body following the closing
// bracket. Whitespace in body is not trimmed. Lines without a ']' return
// ErrNoTag; the '[' is not required to be the first byte, matching the
// reference behavior of scanning for the first bracket pair anywhere in the
// line.
func Split(line string) (tag string, body string, err error) {
	close := strings.IndexByte(line, ']')
	if close < 0 {
		return "", "", ErrNoTag
	}
	open := strings.IndexByte(line[:close], '[')
	if open < 0 {
		return "", "", ErrNoTag
	}
	return line[open+1 : close], line[close+1:], nil
}

// ParseTimestamp converts a tag of the form "H…:MM:SS" or "H…:MM:SS.fff"
// into milliseconds since the start of the tag's clock. Hours may be any
// non-negative integer, minutes must be in [0,60], seconds must be a
// non-negative real strictly less than 60.
func ParseTimestamp(tag string) (int64, error) {
	first := strings.IndexByte(tag, ':')
	if first < 0 {
		return 0, ErrMalformedTag
	}
	last := strings.LastIndexByte(tag, ':')
	if last == first {
		return 0, ErrMalformedTag
	}

	hourPart := tag[:first]
	minPart := tag[first+1 : last]
	secPart := tag[last+1:]

	hours, err := strconv.ParseInt(hourPart, 10, 64)
	if err != nil || hours < 0 {
		return 0, ErrMalformedTag
	}

	minutes, err := strconv.ParseInt(minPart, 10, 64)
	if err != nil || minutes < 0 || minutes > 60 {
		return 0, ErrMalformedTag
	}

	seconds, err := strconv.ParseFloat(secPart, 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return 0, ErrMalformedTag
	}

	total := float64(hours*3600+minutes*60)*1000 + math.Round(seconds*1000)
	return int64(total), nil
}

// ExtractMillis is a convenience wrapper combining Split and ParseTimestamp:
// it returns the millisecond timestamp and the line body, or an error if the
// line has no valid tag.
func ExtractMillis(line string) (ms int64, body string, err error) {
	tag, body, err := Split(line)
	if err != nil {
		return 0, "", err
	}
	ms, err = ParseTimestamp(tag)
	if err != nil {
		return 0, "", err
	}
	return ms, body, nil
}
