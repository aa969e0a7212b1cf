package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLSinkWriteResultEmitsOneLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLSink(&buf, "scan-1")

	err := s.WriteResult(ResultRecord{TargetRef: "https://example.com", CandidatePath: "admin/", Type: "OK"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &env))
	assert.Equal(t, TypeResult, env.Type)
	assert.Equal(t, "scan-1", env.ScanID)

	var rec ResultRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "admin/", rec.CandidatePath)
}

func TestJSONLSinkRejectsWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLSink(&buf, "scan-1")
	require.NoError(t, s.Close())

	err := s.WriteResult(ResultRecord{CandidatePath: "x"})
	assert.ErrorIs(t, err, ErrSinkClosed)
}

func TestJSONLSinkHandlesShortWrites(t *testing.T) {
	w := &shortWriter{max: 3}
	s := NewJSONLSink(w, "scan-1")

	err := s.WriteResult(ResultRecord{CandidatePath: "admin/"})
	require.NoError(t, err)
	assert.Contains(t, w.buf.String(), "admin/")
}

func TestMultiSinkFansOutAndReturnsFirstError(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	good := NewJSONLSink(&buf1, "scan-1")
	bad := &failingSink{err: errors.New("disk full")}
	ok2 := NewJSONLSink(&buf2, "scan-1")

	multi := NewMultiSink(good, bad, ok2)
	err := multi.WriteResult(ResultRecord{CandidatePath: "x"})

	assert.EqualError(t, err, "disk full")
	assert.NotEmpty(t, buf1.String())
	assert.NotEmpty(t, buf2.String())
}

type shortWriter struct {
	buf bytes.Buffer
	max int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		p = p[:w.max]
	}
	return w.buf.Write(p)
}

type failingSink struct{ err error }

func (f *failingSink) WriteResult(ResultRecord) error     { return f.err }
func (f *failingSink) WriteError(ErrorRecord) error       { return f.err }
func (f *failingSink) WriteProgress(ProgressRecord) error { return f.err }
func (f *failingSink) WriteSummary(SummaryRecord) error   { return f.err }
func (f *failingSink) Close() error                       { return nil }
