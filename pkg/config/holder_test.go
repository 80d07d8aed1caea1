package config

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHolder_ReloadSwapsOnSuccess(t *testing.T) {
	h := NewHolder(MustDefaultSnapshot(), zaptest.NewLogger(t))
	first := h.Current()
	assert.Equal(t, uint64(1), first.Version)

	snap, err := h.Reload(func() (RawParameters, error) {
		raw := DefaultParameters()
		raw.StaleOrderThresholdSeconds = 300
		return raw, nil
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), snap.Version)
	assert.Same(t, snap, h.Current())
	assert.Equal(t, 300.0, h.Current().ThresholdSeconds())
	// The old snapshot is untouched.
	assert.Equal(t, 120.0, first.ThresholdSeconds())
}

func TestHolder_ReloadKeepsPreviousOnInvalid(t *testing.T) {
	h := NewHolder(MustDefaultSnapshot(), zaptest.NewLogger(t))
	before := h.Current()

	_, err := h.Reload(func() (RawParameters, error) {
		raw := DefaultParameters()
		raw.ProfitLevels = []float64{10, 5, 1, 0}
		return raw, nil
	})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, cfgErr.HasField("profit_levels"))
	assert.Same(t, before, h.Current())
}

func TestHolder_ReloadKeepsPreviousOnLoadError(t *testing.T) {
	h := NewHolder(MustDefaultSnapshot(), nil)
	before := h.Current()
	boom := errors.New("disk gone")

	_, err := h.Reload(func() (RawParameters, error) { return RawParameters{}, boom })
	require.ErrorIs(t, err, boom)
	assert.Same(t, before, h.Current())
}

func TestLoad_RejectsInvalidConfiguration(t *testing.T) {
	_, err := Load(func() (RawParameters, error) {
		raw := DefaultParameters()
		raw.MaxActivePositions = -1
		return raw, nil
	}, nil)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, cfgErr.HasField("max_active_positions"))
}

func TestHolder_ConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	h := NewHolder(MustDefaultSnapshot(), nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := h.Current()
				if len(snap.ProfitLevels) != len(snap.ProfitPercentages) {
					t.Errorf("torn snapshot version %d", snap.Version)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		n := i%4 + 1
		_, err := h.Reload(func() (RawParameters, error) {
			raw := DefaultParameters()
			raw.ProfitLevels = raw.ProfitLevels[:n]
			raw.ProfitPercentages = raw.ProfitPercentages[:n]
			return raw, nil
		})
		require.NoError(t, err)
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, uint64(51), h.Current().Version)
}
