package deps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tsbox/internal/apperror"
)

func TestParseDeclaration(t *testing.T) {
	tests := []struct {
		literal     string
		wantName    string
		wantVersion string
	}{
		{"lodash@4.17.21", "lodash", "4.17.21"},
		{"lodash", "lodash", "latest"},
		{"moment@^2.29.0", "moment", "^2.29.0"},
		{"@types/node", "@types/node", "latest"},
		{"@types/node@20.1.0", "@types/node", "20.1.0"},
		{"date-fns@next", "date-fns", "next"},
	}

	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			d, err := ParseDeclaration(tt.literal)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, d.Name)
			assert.Equal(t, tt.wantVersion, d.Version)
		})
	}
}

func TestParseDeclaration_Rejects(t *testing.T) {
	bad := []string{
		"; rm -rf /",
		"lodash; rm -rf /",
		"lodash && curl x",
		"$(whoami)",
		"`id`",
		"lodash@1.0 > /etc/passwd",
		"../../etc",
		"",
		"@",
		"lodash@",
		"a b",
	}

	for _, lit := range bad {
		t.Run(lit, func(t *testing.T) {
			_, err := ParseDeclaration(lit)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrInvalidDependency))
		})
	}
}

func TestParseAll_StopsAtFirstInvalid(t *testing.T) {
	decls, err := ParseAll([]string{"lodash", "bad name", "moment"})
	assert.Error(t, err)
	assert.Nil(t, decls)
}
