package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sift/internal/model"
	"github.com/sells-group/sift/internal/store"
)

func TestParseTierArg(t *testing.T) {
	tests := []struct {
		raw     string
		want    model.Tier
		wantErr bool
	}{
		{"free", model.TierFree, false},
		{"PLUS", model.TierPlus, false},
		{" paid ", model.TierPaid, false},
		{"unlimited", model.TierUnlimited, false},
		{"admin", model.TierAdmin, false},
		{"gold", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseTierArg(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTierSetCommand(t *testing.T) {
	chdirTemp(t)
	dsn := filepath.Join(t.TempDir(), "tier.db")
	t.Setenv("SIFT_STORE_DRIVER", "sqlite")
	t.Setenv("SIFT_STORE_DATABASE_URL", dsn)
	t.Setenv("SIFT_LOG_FORMAT", "console")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"tier", "set", "u1", "plus"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "u1 is now plus")

	st, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	p, err := st.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, model.TierPlus, p.Tier)
}
