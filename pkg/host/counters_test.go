package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// A trimmed but field-accurate /proc/diskstats snapshot. The sda line
// carries the post-4.18 discard and flush fields, the md0 line the
// classic 14-field layout.
const diskstatsFixture = `   1       0 ram0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0
   7       0 loop0 55 0 2170 12 0 0 0 0 0 40 12 0 0 0 0 0 0
   8       0 sda 124571 3904 9381436 48677 317402 200316 35490176 1247904 2 351316 1296581 0 0 0 0 0 0
   8       1 sda1 124201 3904 9370092 48590 301225 200316 35490176 1243921 0 349800 1292511 0 0 0 0 0 0
   9       0 md0 8841 0 278226 0 4862 0 38896 0 0 0 0
 259       0 nvme0n1 330816 95400 24096929 59338 748163 479392 49416192 698566 0 385624 757904 0 0 0 0 0 0
`

func TestParseDiskstats(t *testing.T) {
	all, err := ParseDiskstats([]byte(diskstatsFixture))
	require.NoError(t, err)

	sda, ok := all["sda"]
	require.True(t, ok, "sda should be present")
	assert.Equal(t, int64(124571), sda.ReadOps)
	assert.Equal(t, int64(9381436), sda.SectorsRead)
	assert.Equal(t, int64(48677), sda.ReadTimeMs)
	assert.Equal(t, int64(317402), sda.WriteOps)
	assert.Equal(t, int64(35490176), sda.SectorsWritten)
	assert.Equal(t, int64(1247904), sda.WriteTimeMs)
	assert.Equal(t, int64(2), sda.InFlight)
	assert.Equal(t, int64(351316), sda.IOTimeMs)
	assert.Equal(t, int64(1296581), sda.WeightedIOMs)

	assert.Equal(t, int64(9381436*512), sda.ReadBytes())
	assert.Equal(t, int64(35490176*512), sda.WrittenBytes())

	// Partitions and virtual devices parse too; filtering is the
	// sampler's job, not the parser's.
	for _, name := range []string{"ram0", "loop0", "sda1", "md0", "nvme0n1"} {
		_, ok := all[name]
		assert.True(t, ok, "%s should be present", name)
	}
}

func TestParseDiskstatsShortLinesSkipped(t *testing.T) {
	all, err := ParseDiskstats([]byte("garbage line\n 8 0 sdb 1 0 8 1 1 0 8 1 0 2 2\n"))
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, int64(1), all["sdb"].ReadOps)
}

func TestParseDiskstatsBadCounter(t *testing.T) {
	_, err := ParseDiskstats([]byte(" 8 0 sda x 0 0 0 0 0 0 0 0 0 0\n"))
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.KindParse), "got %v", err)
}

func TestParseDiskstatsEmpty(t *testing.T) {
	all, err := ParseDiskstats(nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}
