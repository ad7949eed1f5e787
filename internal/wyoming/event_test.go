package wyoming

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadEvent(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantType    string
		wantText    string
		wantPayload string
	}{
		{
			name:     "inline data",
			in:       `{"type":"transcript","data":{"text":"turn on the lamp"}}` + "\n",
			wantType: "transcript",
			wantText: "turn on the lamp",
		},
		{
			name:     "separate data block",
			in:       `{"type":"transcript","data_length":21}` + "\n" + `{"text":"lights off"}`,
			wantType: "transcript",
			wantText: "lights off",
		},
		{
			name:        "payload",
			in:          `{"type":"audio-chunk","data":{"rate":16000},"payload_length":4}` + "\n" + "\x01\x02\x03\x04",
			wantType:    "audio-chunk",
			wantPayload: "\x01\x02\x03\x04",
		},
		{
			name:     "no data",
			in:       `{"type":"describe"}` + "\n",
			wantType: "describe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ReadEvent(bufio.NewReader(strings.NewReader(tt.in)))
			if err != nil {
				t.Fatalf("ReadEvent() error: %v", err)
			}
			if ev.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", ev.Type, tt.wantType)
			}
			if ev.Text() != tt.wantText {
				t.Errorf("Text() = %q, want %q", ev.Text(), tt.wantText)
			}
			if string(ev.Payload) != tt.wantPayload {
				t.Errorf("Payload = %q, want %q", ev.Payload, tt.wantPayload)
			}
		})
	}
}

func TestReadEvent_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "hello\n"},
		{"missing type", `{"data":{}}` + "\n"},
		{"truncated data", `{"type":"text","data_length":50}` + "\n" + `{"text":"x"}`},
		{"truncated header", `{"type":"text"`},
		{"negative length", `{"type":"text","payload_length":-1}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEvent(bufio.NewReader(strings.NewReader(tt.in)))
			if err == nil {
				t.Fatal("ReadEvent() succeeded, want error")
			}
			if errors.Is(err, io.EOF) && tt.name != "truncated header" {
				t.Errorf("error = %v, want a decode error", err)
			}
		})
	}

	if _, err := ReadEvent(bufio.NewReader(strings.NewReader(""))); err != io.EOF {
		t.Errorf("empty stream error = %v, want io.EOF", err)
	}
}

// endless yields the same byte forever and never a newline.
type endless byte

func (e endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(e)
	}
	return len(p), nil
}

func TestReadEvent_HeaderLimit(t *testing.T) {
	_, err := ReadEvent(bufio.NewReader(endless('a')))
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("unterminated header error = %v, want ErrHeaderTooLarge", err)
	}

	// A header just under the limit is still read.
	pad := strings.Repeat(" ", maxHeader-len(`{"type":"ping"}`)-1)
	ev, err := ReadEvent(bufio.NewReader(strings.NewReader(`{"type":"ping"}` + pad + "\n")))
	if err != nil || ev.Type != TypePing {
		t.Errorf("ReadEvent(near limit) = %+v, %v", ev, err)
	}
}

func TestWriteEvent_ReadBack(t *testing.T) {
	var buf bytes.Buffer
	in := Event{Type: TypeHandled, Data: map[string]any{"text": "Done, Sir."}, Payload: []byte("xyz")}
	if err := WriteEvent(&buf, in); err != nil {
		t.Fatalf("WriteEvent() error: %v", err)
	}

	header, _, _ := strings.Cut(buf.String(), "\n")
	if !strings.Contains(header, `"data_length":21`) || !strings.Contains(header, `"payload_length":3`) {
		t.Errorf("header = %s, want data and payload lengths", header)
	}

	out, err := ReadEvent(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadEvent() error: %v", err)
	}
	if out.Type != TypeHandled || out.Text() != "Done, Sir." || string(out.Payload) != "xyz" {
		t.Errorf("read back %+v", out)
	}
}
