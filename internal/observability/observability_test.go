package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAcceptsValidLevelsAndProfiles(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
	}{
		{"structured info", "info", "structured"},
		{"console debug", "debug", "console"},
		{"empty level defaults to info", "", "structured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.level, tt.profile)
			require.NoError(t, err)
			assert.NotNil(t, CLILogger)
		})
	}
}

func TestInitRejectsInvalidLevel(t *testing.T) {
	err := Init("not-a-level", "structured")
	assert.Error(t, err)
}

func TestScanLoggerAddsScanIDField(t *testing.T) {
	require.NoError(t, Init("info", "structured"))
	logger := ScanLogger("scan-123")
	assert.NotNil(t, logger)
}
