package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		got  string
		icon string
	}{
		{"success", FormatSuccess("migrated"), IconSuccess},
		{"error", FormatError("failed"), IconError},
		{"warning", FormatWarning("careful"), IconWarning},
		{"info", FormatInfo("note"), IconInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.got, tt.icon)
		})
	}
}

func TestFormatStep(t *testing.T) {
	result := FormatStep(2, 12, "connecting")
	assert.Contains(t, result, "[2/12]")
	assert.Contains(t, result, "connecting")
}

func TestFormatKeyValue(t *testing.T) {
	result := FormatKeyValue("Version", "3")
	assert.Contains(t, result, "Version:")
	assert.Contains(t, result, "3")
}

func TestNewTable(t *testing.T) {
	out := NewTable("Seq", "Type").Row("0", "WidgetCreatedV1").Row("1", "WidgetNameChangedV1").Render()
	assert.Contains(t, out, "Seq")
	assert.Contains(t, out, "WidgetNameChangedV1")
}

func TestDisableColors(t *testing.T) {
	originalPrimary := Primary
	originalSuccess := Success
	defer func() {
		Primary = originalPrimary
		Success = originalSuccess
	}()

	DisableColors()

	assert.Equal(t, "", string(Primary))
	assert.Equal(t, "", string(Success))
	assert.Contains(t, Banner(), "ordermesh")
}
