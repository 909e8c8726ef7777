package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		info        Info
		wantRelease string
		wantString  string
	}{
		{
			name:        "set at build time",
			info:        New("1.2.0", "2025-01-15"),
			wantRelease: "ikancheck@1.2.0",
			wantString:  "IkanCheck 1.2.0 (built 2025-01-15)",
		},
		{
			name:        "development build",
			info:        New("", ""),
			wantRelease: "ikancheck@unknown",
			wantString:  "IkanCheck unknown (built unknown)",
		},
		{
			name:        "zero value",
			info:        Info{},
			wantRelease: "ikancheck@unknown",
			wantString:  "IkanCheck unknown (built unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantRelease, tt.info.Release())
			assert.Equal(t, tt.wantString, tt.info.String())
		})
	}
}
