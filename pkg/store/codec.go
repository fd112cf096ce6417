package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thannaske/s3sizer/pkg/models"
)

// payload mirrors the DeltaRecord wire schema. SizeDelta is a json.Number so
// that quoted numbers written by older producers still decode.
type payload struct {
	ObjectName string      `json:"object_name"`
	SizeDelta  json.Number `json:"size_delta"`
	BucketName string      `json:"bucket"`
}

// EncodeRecord renders rec in the canonical history schema. HTML characters
// are written verbatim so that '&', '<' and '>' in object names stay
// searchable as plain text.
func EncodeRecord(rec models.DeltaRecord) (string, error) {
	b, err := marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode delta record: %w", err)
	}
	return string(b), nil
}

// EscapedName returns name as it appears inside an encoded record, without
// the surrounding quotes. It differs from name only when name contains
// quotes, backslashes or control characters.
func EscapedName(name string) string {
	b, err := marshal(name)
	if err != nil || len(b) < 2 {
		return name
	}
	return string(b[1 : len(b)-1])
}

func marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeRecord parses a history message. Canonical messages are decoded
// directly; legacy lines with a prefix or suffix around the JSON object are
// decoded from the first '{' to the last '}'. ok is false for anything that
// does not yield an object name and an integer delta.
func DecodeRecord(msg string) (rec models.DeltaRecord, ok bool) {
	p, err := decodePayload(msg)
	if err != nil {
		start := strings.IndexByte(msg, '{')
		end := strings.LastIndexByte(msg, '}')
		if start == -1 || end <= start {
			return models.DeltaRecord{}, false
		}
		if p, err = decodePayload(msg[start : end+1]); err != nil {
			return models.DeltaRecord{}, false
		}
	}

	if p.ObjectName == "" || p.SizeDelta == "" {
		return models.DeltaRecord{}, false
	}
	delta, err := p.SizeDelta.Int64()
	if err != nil {
		return models.DeltaRecord{}, false
	}

	return models.DeltaRecord{
		ObjectName: p.ObjectName,
		SizeDelta:  delta,
		BucketName: p.BucketName,
	}, true
}

func decodePayload(s string) (payload, error) {
	var p payload
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}
