package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thannaske/s3sizer/pkg/models"
)

func TestEncodeRecord_Schema(t *testing.T) {
	msg, err := EncodeRecord(models.DeltaRecord{ObjectName: "a.txt", SizeDelta: -19, BucketName: "data"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"object_name":"a.txt","size_delta":-19,"bucket":"data"}`, msg)
}

func TestEncodeRecord_KeepsHTMLCharacters(t *testing.T) {
	msg, err := EncodeRecord(models.DeltaRecord{ObjectName: "x<y>&z.bin", SizeDelta: 3, BucketName: "data"})
	require.NoError(t, err)
	assert.Equal(t, `{"object_name":"x<y>&z.bin","size_delta":3,"bucket":"data"}`, msg)
	assert.Contains(t, msg, "x<y>&z.bin")
}

func TestEscapedName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain.txt", "plain.txt"},
		{"a&b.txt", "a&b.txt"},
		{`q"uote`, `q\"uote`},
		{`back\slash`, `back\\slash`},
		{"tab\tname", `tab\tname`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapedName(tt.in))

		msg, err := EncodeRecord(models.DeltaRecord{ObjectName: tt.in, SizeDelta: 1})
		require.NoError(t, err)
		assert.Contains(t, msg, EscapedName(tt.in))
		rec, ok := DecodeRecord(msg)
		require.True(t, ok)
		assert.Equal(t, tt.in, rec.ObjectName)
	}
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		want   models.DeltaRecord
		wantOK bool
	}{
		{
			name:   "canonical",
			msg:    `{"object_name":"a.txt","size_delta":19,"bucket":"data"}`,
			want:   models.DeltaRecord{ObjectName: "a.txt", SizeDelta: 19, BucketName: "data"},
			wantOK: true,
		},
		{
			name:   "legacy log line",
			msg:    "[INFO]\t2025-10-01T12:00:00.000Z\treq-1\t{\"object_name\": \"a.txt\", \"size_delta\": 28, \"bucket\": \"data\"}\n",
			want:   models.DeltaRecord{ObjectName: "a.txt", SizeDelta: 28, BucketName: "data"},
			wantOK: true,
		},
		{
			name:   "quoted delta",
			msg:    `{"object_name":"a.txt","size_delta":"7","bucket":"data"}`,
			want:   models.DeltaRecord{ObjectName: "a.txt", SizeDelta: 7, BucketName: "data"},
			wantOK: true,
		},
		{name: "no braces", msg: "FOUND previous size for a.txt: 19"},
		{name: "reversed braces", msg: "} a.txt {"},
		{name: "non numeric delta", msg: `{"object_name":"a.txt","size_delta":"big","bucket":"data"}`},
		{name: "missing delta", msg: `{"object_name":"a.txt","bucket":"data"}`},
		{name: "missing name", msg: `{"size_delta":3}`},
		{name: "broken json", msg: `START {"object_name":"a.txt", END}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeRecord(tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
