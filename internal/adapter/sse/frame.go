// Package sse implements the Server-Sent Events alarm stream.
package sse

import (
	"bytes"
	"io"
	"strconv"
	"time"
)

// Frame kinds sent on the stream.
const (
	EventSnapshot = "snapshot"
	EventAlarm    = "alarm"
)

// WriteFrame writes one event frame: an optional id line, the event line,
// one data line per line of data, and a terminating blank line.
// An id of 0 omits the id line.
func WriteFrame(w io.Writer, id uint64, event string, data []byte) error {
	var buf bytes.Buffer
	if id > 0 {
		buf.WriteString("id: ")
		buf.WriteString(strconv.FormatUint(id, 10))
		buf.WriteByte('\n')
	}
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteByte('\n')

	// Both \n and \r\n end a line in the event stream format.
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteKeepalive writes a comment frame carrying the current time.
// Clients ignore comment lines.
func WriteKeepalive(w io.Writer, now time.Time) error {
	_, err := io.WriteString(w, ": ping "+now.UTC().Format(time.RFC3339)+"\n\n")
	return err
}
