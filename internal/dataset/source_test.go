package dataset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/funnelsim/internal/config"
)

func TestNewLoader(t *testing.T) {
	cfg := config.Default()
	cfg.Experiment.Users = 3
	cfg.Experiment.Items = 2
	cfg.Experiment.Steps = 4

	t.Run("generated", func(t *testing.T) {
		data := cfg.Data
		data.Source = SourceGenerated

		l, err := NewLoader(cfg.Experiment, data)
		require.NoError(t, err)

		got, err := l.Load(context.Background(), 1)
		require.NoError(t, err)
		want := Generator{Dims: DimensionsOf(cfg.Experiment), Seed: DeriveSeed(cfg.Experiment.Seed)}.Trial(1)
		assert.Equal(t, want, got)
	})

	t.Run("csv", func(t *testing.T) {
		data := cfg.Data
		data.Source = SourceCSV
		data.Dir = t.TempDir()

		l, err := NewLoader(cfg.Experiment, data)
		require.NoError(t, err)
		csvLoader, ok := l.(*CSVLoader)
		require.True(t, ok)
		assert.Equal(t, data.Dir, csvLoader.Dir())
	})

	t.Run("unknown", func(t *testing.T) {
		data := cfg.Data
		data.Source = "parquet"

		_, err := NewLoader(cfg.Experiment, data)
		var cfgErr *config.ConfigurationError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "data.source", cfgErr.Field)
	})
}
