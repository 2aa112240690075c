package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"valid relative path", "data/store.db", false},
		{"valid file name", "config.json", false},
		{"empty path", "", true},
		{"directory traversal", "../../etc/passwd", true},
		{"hidden traversal", "data/../../secret", true},
		{"absolute path", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	assert.NoError(t, ValidateFilePathWithBase("sessions/chan-1", "data"))
	assert.Error(t, ValidateFilePathWithBase("../outside", "data"))
	assert.Error(t, ValidateFilePathWithBase("", "data"))
}
