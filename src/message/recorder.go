package message

import (
	"encoding/binary"
	"io"
)

// Recorder captures published messages to a sink in wire form, each
// record prefixed by a 4-byte big-endian length. A cap of zero records
// without limit; otherwise the recorder goes inactive once the cap is
// reached.
type Recorder struct {
	sink      io.Writer
	remaining uint64
	unlimited bool
}

// NewRecorder ...
func NewRecorder(sink io.Writer, cap uint64) *Recorder {
	return &Recorder{sink: sink, remaining: cap, unlimited: cap == 0}
}

// Active reports whether the recorder still accepts records.
func (r *Recorder) Active() bool {
	return r.sink != nil && (r.unlimited || r.remaining > 0)
}

// Record appends one message to the recording. Once the cap is
// exhausted further calls are no-ops.
func (r *Recorder) Record(m NodeMessage) error {
	if !r.Active() {
		return nil
	}

	wire, err := EncodeNodeMessage(m)
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(wire)))
	if _, err := r.sink.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := r.sink.Write(wire); err != nil {
		return err
	}

	if !r.unlimited {
		r.remaining--
	}
	return nil
}

// ReplayRecording reads back the messages of a recording until EOF.
func ReplayRecording(source io.Reader) ([]NodeMessage, error) {
	var out []NodeMessage
	for {
		var prefix [4]byte
		if _, err := io.ReadFull(source, prefix[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}

		wire := make([]byte, binary.BigEndian.Uint32(prefix[:]))
		if _, err := io.ReadFull(source, wire); err != nil {
			return out, err
		}

		m, err := DecodeNodeMessage(wire)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
}
