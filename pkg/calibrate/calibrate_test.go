package calibrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomsec/fathom/pkg/executor"
)

func wildcardProber(ctx context.Context, path string) (executor.ResponseSummary, error) {
	return executor.ResponseSummary{
		Status:   200,
		Body:     []byte("Page not found"),
		BodySize: len("Page not found"),
	}, nil
}

func TestCalibrateOffReturnsEmptyData(t *testing.T) {
	data, err := Calibrate(context.Background(), ModeOff, "php", wildcardProber)
	require.NoError(t, err)
	assert.True(t, data.Empty())
}

func TestCalibrateQuickDetectsConsistentWildcard(t *testing.T) {
	data, err := Calibrate(context.Background(), ModeQuick, "php", wildcardProber)
	require.NoError(t, err)
	require.False(t, data.Empty())

	// A later real candidate with the same 200 + body is flagged as
	// matching the wildcard.
	match := data.Matches(executor.ResponseSummary{
		Status:   200,
		Body:     []byte("Page not found"),
		BodySize: len("Page not found"),
	})
	assert.True(t, match)
}

func TestCalibrateDoesNotFlagDissimilarResponse(t *testing.T) {
	data, err := Calibrate(context.Background(), ModeQuick, "php", wildcardProber)
	require.NoError(t, err)

	match := data.Matches(executor.ResponseSummary{
		Status:   200,
		Body:     []byte("Welcome to the real admin dashboard"),
		BodySize: len("Welcome to the real admin dashboard"),
	})
	assert.False(t, match)
}

func TestBodyFingerprintNormalizesRandomTokens(t *testing.T) {
	a := BodyFingerprint([]byte("request id 12345 not found"))
	b := BodyFingerprint([]byte("request id 98765 not found"))
	assert.Equal(t, a, b)
}

func TestSizeBucketRoundsToNearest32(t *testing.T) {
	assert.Equal(t, SizeBucket(0), SizeBucket(10))
	assert.NotEqual(t, SizeBucket(0), SizeBucket(40))
}
