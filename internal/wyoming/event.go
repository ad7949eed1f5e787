// Package wyoming serves the Wyoming protocol used by Home Assistant
// voice pipelines. Jarvis registers as a handle program: it receives
// transcripts and answers with the text to speak.
package wyoming

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event types handled by the server.
const (
	TypeDescribe   = "describe"
	TypeInfo       = "info"
	TypeTranscript = "transcript"
	TypeText       = "text"
	TypeHandled    = "handled"
	TypeNotHandled = "not-handled"
	TypePing       = "ping"
	TypePong       = "pong"
)

// maxSection bounds a data block or payload.
const maxSection = 4 << 20

// maxHeader bounds a header line. Headers carry inline data only for
// older peers; audio always travels in the payload.
const maxHeader = 64 << 10

// ErrHeaderTooLarge is returned when a header line exceeds maxHeader
// before its newline arrives.
var ErrHeaderTooLarge = fmt.Errorf("header exceeds %d bytes", maxHeader)

// Event is one protocol message: a JSON header line, optionally
// followed by a JSON data block and a binary payload whose lengths the
// header announces.
type Event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

type header struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
	Version       string         `json:"version,omitempty"`
}

// ProtocolVersion is sent in every header.
const ProtocolVersion = "1.5.4"

// Text returns the "text" field of the event data.
func (e Event) Text() string {
	s, _ := e.Data["text"].(string)
	return s
}

// ReadEvent reads the next event from r. io.EOF is returned unwrapped
// when the peer closes between events.
func ReadEvent(r *bufio.Reader) (Event, error) {
	line, err := readLine(r, maxHeader)
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("read header: %w", err)
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return Event{}, fmt.Errorf("decode header: %w", err)
	}
	if h.Type == "" {
		return Event{}, errors.New("event has no type")
	}
	if h.DataLength < 0 || h.DataLength > maxSection || h.PayloadLength < 0 || h.PayloadLength > maxSection {
		return Event{}, fmt.Errorf("event %s: invalid section length", h.Type)
	}

	ev := Event{Type: h.Type, Data: h.Data}
	if h.DataLength > 0 {
		buf := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Event{}, fmt.Errorf("read data: %w", err)
		}
		var extra map[string]any
		if err := json.Unmarshal(buf, &extra); err != nil {
			return Event{}, fmt.Errorf("decode data: %w", err)
		}
		if ev.Data == nil {
			ev.Data = make(map[string]any, len(extra))
		}
		for k, v := range extra {
			ev.Data[k] = v
		}
	}
	if h.PayloadLength > 0 {
		ev.Payload = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r, ev.Payload); err != nil {
			return Event{}, fmt.Errorf("read payload: %w", err)
		}
	}
	return ev, nil
}

// readLine reads through the next newline, failing as soon as the line
// grows past limit bytes.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return nil, ErrHeaderTooLarge
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

// WriteEvent writes ev to w. Data travels in a separate block after the
// header, as current peers expect.
func WriteEvent(w io.Writer, ev Event) error {
	h := header{Type: ev.Type, Version: ProtocolVersion, PayloadLength: len(ev.Payload)}

	var data []byte
	if len(ev.Data) > 0 {
		var err error
		if data, err = json.Marshal(ev.Data); err != nil {
			return fmt.Errorf("encode %s data: %w", ev.Type, err)
		}
		h.DataLength = len(data)
	}

	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode %s header: %w", ev.Type, err)
	}
	buf := make([]byte, 0, len(line)+1+len(data)+len(ev.Payload))
	buf = append(buf, line...)
	buf = append(buf, '\n')
	buf = append(buf, data...)
	buf = append(buf, ev.Payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", ev.Type, err)
	}
	return nil
}
