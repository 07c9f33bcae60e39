package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name    string
		version string
		want    string
	}{
		{"release", "1.4.0", "kbase version 1.4.0\n"},
		{"development build", "dev", "kbase version dev\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := version
			version = tt.version
			defer func() { version = original }()

			buf := new(bytes.Buffer)
			rootCmd.SetOut(buf)
			rootCmd.SetArgs([]string{"version"})
			defer func() {
				rootCmd.SetArgs(nil)
			}()

			err := rootCmd.Execute()

			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestVersionCmd_SkipsBootstrap(t *testing.T) {
	assert.Equal(t, bootstrapNone, versionCmd.Annotations[annotationBootstrap])
}
