package backup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCommand(t *testing.T) {
	params := map[string]string{
		"host":     "db.internal",
		"user":     "os_admin",
		"password": "s3cret",
	}

	tests := []struct {
		name     string
		template string
		want     string
		missing  []string
	}{
		{
			name:     "all parameters present",
			template: "mysqldump -h ${host} -u ${user} --password=${password}",
			want:     "mysqldump -h db.internal -u os_admin --password=s3cret",
		},
		{
			name:     "literal dollar",
			template: "echo $$HOME ${user}",
			want:     "echo $HOME os_admin",
		},
		{
			name:     "no placeholders",
			template: "cat",
			want:     "cat",
		},
		{
			name:     "missing parameters are reported sorted",
			template: "xbstream -x -C ${restore_location} ${data_dir}",
			missing:  []string{"data_dir", "restore_location"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandCommand(tt.template, params)
			if tt.missing == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			assert.Equal(t, BackupErrorTypeValidation, ErrorType(err))
			backupErr, ok := err.(*BackupError)
			require.True(t, ok)
			assert.Equal(t, tt.missing, backupErr.Context["missing"])
		})
	}
}

func TestMergeParams(t *testing.T) {
	base := map[string]string{"user": "root", "host": "localhost"}
	merged := mergeParams(base, map[string]string{"host": "db", "restore_location": "/tmp/r"})

	assert.Equal(t, map[string]string{
		"user":             "root",
		"host":             "db",
		"restore_location": "/tmp/r",
	}, merged)
	assert.Equal(t, "localhost", base["host"])
}

func TestStderrBuffer(t *testing.T) {
	buf := &stderrBuffer{}
	_, err := buf.Write([]byte("  warning: something\n"))
	require.NoError(t, err)

	assert.Equal(t, "warning: something", buf.String())
}
