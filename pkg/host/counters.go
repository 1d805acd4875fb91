package host

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

// diskstats field layout (0-indexed, after splitting on whitespace):
//
//	0 major  1 minor  2 name
//	3 reads completed   4 reads merged    5 sectors read    6 read ms
//	7 writes completed  8 writes merged   9 sectors written 10 write ms
//	11 in-flight        12 io ms          13 weighted io ms
//
// Kernels past 4.18 append discard and flush fields; they are ignored.
const diskstatsMinFields = 14

// ParseDiskstats parses the full contents of /proc/diskstats into a map
// keyed by device name. Lines with too few fields are skipped; a field
// that fails to parse as an integer fails the whole read so callers do
// not act on a torn snapshot.
func ParseDiskstats(data []byte) (map[string]DiskCounters, error) {
	const op = "host.ParseDiskstats"

	out := make(map[string]DiskCounters)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < diskstatsMinFields {
			continue
		}

		vals := make([]int64, 0, 9)
		for _, idx := range []int{3, 5, 6, 7, 9, 10, 11, 12, 13} {
			v, err := strconv.ParseInt(fields[idx], 10, 64)
			if err != nil {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad counter %q for %s", op, fields[idx], fields[2])
			}
			vals = append(vals, v)
		}

		out[fields[2]] = DiskCounters{
			Device:         fields[2],
			ReadOps:        vals[0],
			SectorsRead:    vals[1],
			ReadTimeMs:     vals[2],
			WriteOps:       vals[3],
			SectorsWritten: vals[4],
			WriteTimeMs:    vals[5],
			InFlight:       vals[6],
			IOTimeMs:       vals[7],
			WeightedIOMs:   vals[8],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	return out, nil
}

// countersFor extracts one device from a parsed diskstats snapshot.
func countersFor(all map[string]DiskCounters, device string) (DiskCounters, error) {
	c, ok := all[device]
	if !ok {
		return DiskCounters{}, errdefs.Errorf(errdefs.KindNotAvailable, "host.ReadCounters: device %s not in diskstats", device)
	}
	return c, nil
}
