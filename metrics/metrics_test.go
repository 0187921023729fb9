package metrics_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/siva/metrics"
)

func TestCollectorRegisters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	c := metrics.New("siva")
	require.NoError(t, reg.Register(c))

	c.ObserveTraversal("filtered", time.Millisecond, nil)
	c.ObserveTraversal("complete", time.Millisecond, errors.New("boom"))
	c.ObserveBlock(3)
	c.ObserveBlock(2)
	c.ObserveIntegrityFailure()
	c.ObserveContentRead("file", 10)
	c.ObserveContentRead("cache", 5)
	c.ObserveChecksumFailure()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"siva_index_traversals_total",
		"siva_index_traversal_duration_seconds",
		"siva_index_blocks_read_total",
		"siva_index_entries_read_total",
		"siva_index_integrity_failures_total",
		"siva_content_reads_total",
		"siva_content_read_bytes_total",
		"siva_content_checksum_failures_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestCollectorValues(t *testing.T) {
	t.Parallel()

	c := metrics.New("test")
	c.ObserveBlock(3)
	c.ObserveBlock(2)
	c.ObserveContentRead("file", 10)
	c.ObserveContentRead("file", 4)

	expected := `
# HELP test_index_entries_read_total Total number of index entries decoded
# TYPE test_index_entries_read_total counter
test_index_entries_read_total 5
# HELP test_index_blocks_read_total Total number of index blocks decoded
# TYPE test_index_blocks_read_total counter
test_index_blocks_read_total 2
# HELP test_content_read_bytes_total Total bytes of entry content returned
# TYPE test_content_read_bytes_total counter
test_content_read_bytes_total 14
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"test_index_entries_read_total",
		"test_index_blocks_read_total",
		"test_content_read_bytes_total",
	)
	assert.NoError(t, err)
}

func TestCollectorNil(t *testing.T) {
	t.Parallel()

	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.ObserveTraversal("filtered", time.Second, nil)
		c.ObserveBlock(1)
		c.ObserveIntegrityFailure()
		c.ObserveContentRead("file", 1)
		c.ObserveChecksumFailure()
	})
}
