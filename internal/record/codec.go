package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StatusComplete is the leading status byte of a fully written record
// file. Appenders write it as part of the atomic rename; a file without
// it was interrupted mid-write.
const StatusComplete byte = 0x01

// FileExt is the extension of persisted record files.
const FileExt = ".rec"

// ErrCorrupt marks a record file that failed name, marker, or format
// validation. Readers skip corrupt records rather than failing the read.
var ErrCorrupt = errors.New("corrupt record")

// Filename returns the persisted file name for r:
// {instance}_{note}_{timestamp}-{sequence}.rec.
//
// Identifiers may not contain the field separators; UUID identifiers
// never do.
func Filename(r UpdateRecord) (string, error) {
	if err := checkID(string(r.Instance)); err != nil {
		return "", fmt.Errorf("instance id: %w", err)
	}
	if err := checkID(string(r.Note)); err != nil {
		return "", fmt.Errorf("note id: %w", err)
	}
	if r.Timestamp < 0 {
		return "", fmt.Errorf("negative timestamp %d", r.Timestamp)
	}
	return fmt.Sprintf("%s_%s_%d-%d%s", r.Instance, r.Note, r.Timestamp, r.Sequence, FileExt), nil
}

// ParseFilename recovers a record's provenance from its file name.
// The payload is left nil; callers fill it from the file content.
func ParseFilename(name string) (UpdateRecord, error) {
	base, ok := strings.CutSuffix(name, FileExt)
	if !ok {
		return UpdateRecord{}, fmt.Errorf("%w: %q: missing %s extension", ErrCorrupt, name, FileExt)
	}
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return UpdateRecord{}, fmt.Errorf("%w: %q: want instance_note_timestamp-sequence", ErrCorrupt, name)
	}
	tsSeq := strings.Split(parts[2], "-")
	if len(tsSeq) != 2 {
		return UpdateRecord{}, fmt.Errorf("%w: %q: malformed timestamp-sequence", ErrCorrupt, name)
	}
	ts, err := strconv.ParseInt(tsSeq[0], 10, 64)
	if err != nil || ts < 0 {
		return UpdateRecord{}, fmt.Errorf("%w: %q: bad timestamp", ErrCorrupt, name)
	}
	seq, err := strconv.ParseUint(tsSeq[1], 10, 64)
	if err != nil {
		return UpdateRecord{}, fmt.Errorf("%w: %q: bad sequence", ErrCorrupt, name)
	}
	if parts[0] == "" || parts[1] == "" {
		return UpdateRecord{}, fmt.Errorf("%w: %q: empty identifier", ErrCorrupt, name)
	}
	return UpdateRecord{
		Instance:  InstanceID(parts[0]),
		Note:      NoteID(parts[1]),
		Timestamp: ts,
		Sequence:  seq,
	}, nil
}

// EncodeFile returns the persisted content of r: the complete-marker
// byte followed by the raw payload.
func EncodeFile(r UpdateRecord) []byte {
	out := make([]byte, 1+len(r.Payload))
	out[0] = StatusComplete
	copy(out[1:], r.Payload)
	return out
}

// DecodeFile validates content read from name and returns the full
// record. Content without the leading complete-marker is corrupt.
func DecodeFile(name string, content []byte) (UpdateRecord, error) {
	r, err := ParseFilename(name)
	if err != nil {
		return UpdateRecord{}, err
	}
	if len(content) == 0 {
		return UpdateRecord{}, fmt.Errorf("%w: %q: empty file", ErrCorrupt, name)
	}
	if content[0] != StatusComplete {
		return UpdateRecord{}, fmt.Errorf("%w: %q: missing write-complete marker", ErrCorrupt, name)
	}
	r.Payload = append([]byte(nil), content[1:]...)
	return r, nil
}

// wireEnvelope is the broadcast-fabric frame format. Payload rides as
// base64 inside JSON; frames are transport-local and never persisted.
type wireEnvelope struct {
	Instance  string `json:"instance"`
	Note      string `json:"note"`
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Payload   []byte `json:"payload"`
}

// MarshalWire encodes r as a broadcast frame.
func MarshalWire(r UpdateRecord) ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Instance:  string(r.Instance),
		Note:      string(r.Note),
		Timestamp: r.Timestamp,
		Sequence:  r.Sequence,
		Payload:   r.Payload,
	})
}

// UnmarshalWire decodes a broadcast frame.
func UnmarshalWire(data []byte) (UpdateRecord, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return UpdateRecord{}, fmt.Errorf("decode wire frame: %w", err)
	}
	if env.Instance == "" || env.Note == "" {
		return UpdateRecord{}, fmt.Errorf("decode wire frame: empty identifier")
	}
	return UpdateRecord{
		Instance:  InstanceID(env.Instance),
		Note:      NoteID(env.Note),
		Timestamp: env.Timestamp,
		Sequence:  env.Sequence,
		Payload:   env.Payload,
	}, nil
}

func checkID(id string) error {
	if id == "" {
		return errors.New("empty")
	}
	if strings.ContainsAny(id, "_/\\") {
		return fmt.Errorf("%q contains a reserved separator", id)
	}
	return nil
}
