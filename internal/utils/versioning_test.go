package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFirmwareVersion(t *testing.T) {
	v, err := ParseFirmwareVersion("v1.4.2-rc.1+esp32")
	require.NoError(t, err)
	assert.Equal(t, uint(1), v.Major)
	assert.Equal(t, uint(4), v.Minor)
	assert.Equal(t, uint(2), v.Patch)
	assert.Equal(t, "rc.1", v.PreRelease)
	assert.Equal(t, "esp32", v.Build)
	assert.Equal(t, "1.4.2-rc.1+esp32", v.String())

	for _, bad := range []string{"", "1.2", "01.2.3", "1.2.3.4", "latest"} {
		_, err := ParseFirmwareVersion(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion, bad)
	}
}

func TestFirmwareVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.1.0", "1.2.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.0", "1.0.0-rc.1", 1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0-rc.2", "1.0.0-rc.10", -1},
		{"1.0.0-rc.1", "1.0.0-rc", 1},
		{"1.0.0-1", "1.0.0-alpha", -1},
		{"1.0.0+a", "1.0.0+b", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			a, err := ParseFirmwareVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseFirmwareVersion(tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Compare(b))
			assert.Equal(t, -tt.want, b.Compare(a))
		})
	}
}

func TestClassifyFirmwareChange(t *testing.T) {
	assert.Equal(t, FirmwareUpgrade, ClassifyFirmwareChange("1.0.0", "1.1.0"))
	assert.Equal(t, FirmwareDowngrade, ClassifyFirmwareChange("1.1.0", "1.0.0"))
	assert.Equal(t, FirmwareRebuild, ClassifyFirmwareChange("1.1.0", "1.1.0+b2"))
	assert.Equal(t, FirmwareUnknown, ClassifyFirmwareChange("", "1.1.0"))
	assert.Equal(t, FirmwareUnknown, ClassifyFirmwareChange("1.1.0", "nightly"))
}
