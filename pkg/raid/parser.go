package raid

import (
	"bufio"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/baluhost/baluhost/pkg/errdefs"
	"github.com/baluhost/baluhost/pkg/types"
)

// Kernel defaults for the sync speed limits, reported when nothing has
// overridden /proc/sys/dev/raid/speed_limit_*.
const (
	DefaultMinSyncKB = 1000
	DefaultMaxSyncKB = 200000
)

var (
	// md0 : active raid1 sdb1[1] sda1[0](F)
	mdstatHeaderRe = regexp.MustCompile(`^(md\d+) : (active|inactive)(?: \(auto-read-only\))?(?: (raid0|raid1|raid4|raid5|raid6|raid10|linear|multipath))?(.*)$`)

	// sda1[0](F) — bracket slot plus optional state flag.
	mdstatDeviceRe = regexp.MustCompile(`^([[:alnum:]_/-]+)\[(\d+)\](\([SFWJR]\))?$`)

	// 1046528 blocks super 1.2 [2/2] [UU] ... optional "512k chunk"
	mdstatBlocksRe = regexp.MustCompile(`^(\d+) blocks(?: super [\d.]+)?(?: level \d+,)?(?: (\d+)[kK] chunks?,?)?.*?(?:\[(\d+)/(\d+)\] \[([U_]+)\])?$`)

	// [===>.......]  resync = 24.3% (1234567/5000000) finish=12.3min speed=1000K/sec
	mdstatProgressRe = regexp.MustCompile(`^\[[=>.]+\]\s+(resync|recovery|check|repair)\s*=\s*([\d.]+)%\s*\((\d+)/(\d+)\)`)

	mdstatBitmapRe = regexp.MustCompile(`^bitmap: `)
)

// ParseMdstat parses the full contents of /proc/mdstat into the typed
// model, one RaidArray per md block. Device order follows slot numbers.
// Output that matches no known shape fails with KindParse rather than
// guessing.
func ParseMdstat(data []byte) ([]types.RaidArray, error) {
	const op = "raid.ParseMdstat"

	var arrays []types.RaidArray
	var cur *types.RaidArray

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" ||
			strings.HasPrefix(trimmed, "Personalities") ||
			strings.HasPrefix(trimmed, "unused devices"):
			continue

		case strings.HasPrefix(line, "md"):
			if cur != nil {
				finishArray(cur)
				arrays = append(arrays, *cur)
			}
			a, err := parseMdstatHeader(trimmed)
			if err != nil {
				return nil, err
			}
			cur = a

		case cur != nil && mdstatProgressRe.MatchString(trimmed):
			m := mdstatProgressRe.FindStringSubmatch(trimmed)
			action := m[1]
			if action == "recovery" {
				action = string(types.SyncRecover)
			}
			cur.SyncAction = types.SyncAction(action)
			done, err1 := strconv.ParseInt(m[3], 10, 64)
			total, err2 := strconv.ParseInt(m[4], 10, 64)
			if err1 != nil || err2 != nil || total <= 0 {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad progress counts in %q", op, trimmed)
			}
			p := float64(done) / float64(total)
			cur.SyncProgress = &p

		case cur != nil && mdstatBlocksRe.MatchString(trimmed) && strings.Contains(trimmed, " blocks"):
			m := mdstatBlocksRe.FindStringSubmatch(trimmed)
			blocks, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad block count in %q", op, trimmed)
			}
			cur.SizeBytes = blocks * 1024
			if m[2] != "" {
				chunk, err := strconv.Atoi(m[2])
				if err != nil {
					return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad chunk size in %q", op, trimmed)
				}
				cur.ChunkKB = chunk
			}
			if m[5] != "" {
				applyMemberMap(cur, m[5])
			}

		case cur != nil && mdstatBitmapRe.MatchString(trimmed):
			cur.Bitmap = types.BitmapInternal

		case cur != nil:
			// Unrecognised continuation lines (resync=DELAYED etc.) are
			// tolerated; an unrecognised top-level line is not.
			if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
				return nil, errdefs.Errorf(errdefs.KindParse, "%s: unrecognised line %q", op, trimmed)
			}

		default:
			return nil, errdefs.Errorf(errdefs.KindParse, "%s: unrecognised line %q", op, trimmed)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errdefs.Wrap(err, errdefs.KindIO, op)
	}
	if cur != nil {
		finishArray(cur)
		arrays = append(arrays, *cur)
	}
	return arrays, nil
}

func parseMdstatHeader(line string) (*types.RaidArray, error) {
	const op = "raid.ParseMdstat"

	m := mdstatHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad array header %q", op, line)
	}

	a := &types.RaidArray{
		Name:       m[1],
		Bitmap:     types.BitmapNone,
		SyncAction: types.SyncIdle,
		MinSyncKB:  DefaultMinSyncKB,
		MaxSyncKB:  DefaultMaxSyncKB,
	}
	if m[2] == "inactive" {
		a.Status = types.ArrayStatusInactive
	}
	if m[3] != "" {
		level, err := types.ParseRaidLevel(m[3])
		if err != nil {
			return nil, errdefs.Errorf(errdefs.KindParse, "%s: %q: %v", op, line, err)
		}
		a.Level = level
	} else if m[2] == "active" {
		return nil, errdefs.Errorf(errdefs.KindParse, "%s: active array without level in %q", op, line)
	}

	for _, tok := range strings.Fields(m[4]) {
		dm := mdstatDeviceRe.FindStringSubmatch(tok)
		if dm == nil {
			return nil, errdefs.Errorf(errdefs.KindParse, "%s: bad device token %q in %q", op, tok, line)
		}
		slot, _ := strconv.Atoi(dm[2])
		dev := types.RaidDevice{
			Name:      dm[1],
			ArrayName: a.Name,
			Role:      types.RoleActive,
			State:     types.DeviceActive,
			Slot:      slot,
		}
		switch dm[3] {
		case "(S)":
			dev.Role, dev.State = types.RoleSpare, types.DeviceSpare
		case "(F)":
			dev.State = types.DeviceFaulty
		case "(W)":
			dev.Role, dev.State = types.RoleWriteMostly, types.DeviceWriteMostly
		case "(J)":
			dev.Role = types.RoleJournal
		case "(R)":
			dev.State = types.DeviceRebuilding
		}
		a.Devices = append(a.Devices, dev)
	}

	sort.SliceStable(a.Devices, func(i, j int) bool {
		return a.Devices[i].Slot < a.Devices[j].Slot
	})
	return a, nil
}

// applyMemberMap marks members absent from the [UU_] map as missing. A '_'
// in slot position means that slot has no live member; when no listed
// device occupies it at all, a synthetic missing record is added so status
// derivation sees the hole.
func applyMemberMap(a *types.RaidArray, memberMap string) {
	for slot, c := range memberMap {
		if c != '_' {
			continue
		}
		found := false
		for i := range a.Devices {
			if a.Devices[i].Slot == slot && a.Devices[i].Role != types.RoleSpare {
				found = true
				break
			}
		}
		if !found {
			a.Devices = append(a.Devices, types.RaidDevice{
				Name:      fmt.Sprintf("missing-%d", slot),
				ArrayName: a.Name,
				Role:      types.RoleActive,
				State:     types.DeviceMissing,
				Slot:      slot,
			})
		}
	}
	sort.SliceStable(a.Devices, func(i, j int) bool {
		return a.Devices[i].Slot < a.Devices[j].Slot
	})
}

// finishArray fills derived fields once all of an array's lines are seen.
// A device marked (S) stays a spare even while a recover is in flight;
// the rebuilding member carries its own (R) flag.
func finishArray(a *types.RaidArray) {
	if a.Status == types.ArrayStatusInactive {
		return
	}
	a.Status = DeriveStatus(a.Level, a.Devices, a.SyncAction)
}

// RenderMdstat renders the canonical model back into /proc/mdstat form.
// ParseMdstat of the result reproduces the model; the simulator uses this
// for dev-mode inspection and the tests pin the round trip.
func RenderMdstat(arrays []types.RaidArray) string {
	var b strings.Builder

	personalities := map[string]bool{}
	for _, a := range arrays {
		if a.Level != "" {
			personalities[string(a.Level)] = true
		}
	}
	names := make([]string, 0, len(personalities))
	for p := range personalities {
		names = append(names, "["+p+"]")
	}
	sort.Strings(names)
	fmt.Fprintf(&b, "Personalities : %s\n", strings.Join(names, " "))

	for _, a := range arrays {
		state := "active"
		if a.Status == types.ArrayStatusInactive {
			state = "inactive"
		}

		fmt.Fprintf(&b, "%s : %s %s", a.Name, state, a.Level)
		// Header lists devices in reverse slot order, as the kernel does.
		devs := append([]types.RaidDevice(nil), a.Devices...)
		sort.SliceStable(devs, func(i, j int) bool { return devs[i].Slot > devs[j].Slot })
		for _, d := range devs {
			if d.State == types.DeviceMissing {
				continue
			}
			suffix := ""
			switch {
			case d.State == types.DeviceFaulty:
				suffix = "(F)"
			case d.State == types.DeviceSpare:
				suffix = "(S)"
			case d.State == types.DeviceWriteMostly:
				suffix = "(W)"
			case d.State == types.DeviceRebuilding:
				suffix = "(R)"
			case d.Role == types.RoleJournal:
				suffix = "(J)"
			}
			fmt.Fprintf(&b, " %s[%d]%s", d.Name, d.Slot, suffix)
		}
		b.WriteByte('\n')

		total, up, memberMap := memberSummary(a)
		fmt.Fprintf(&b, "      %d blocks super 1.2", a.SizeBytes/1024)
		if a.ChunkKB > 0 {
			fmt.Fprintf(&b, " %dk chunks", a.ChunkKB)
		}
		fmt.Fprintf(&b, " [%d/%d] [%s]\n", total, up, memberMap)

		if a.SyncAction != types.SyncIdle && a.SyncProgress != nil {
			action := string(a.SyncAction)
			if a.SyncAction == types.SyncRecover {
				action = "recovery"
			}
			totalKB := a.SizeBytes / 1024
			doneKB := int64(*a.SyncProgress * float64(totalKB))
			bar := progressBar(*a.SyncProgress)
			fmt.Fprintf(&b, "      [%s]  %s = %.1f%% (%d/%d) finish=0.0min speed=%dK/sec\n",
				bar, action, *a.SyncProgress*100, doneKB, totalKB, a.MaxSyncKB)
		}

		if a.Bitmap == types.BitmapInternal {
			fmt.Fprintf(&b, "      bitmap: 0/1 pages [0KB], 65536KB chunk\n")
		}
		b.WriteByte('\n')
	}

	b.WriteString("unused devices: <none>\n")
	return b.String()
}

// memberSummary computes the [n/m] [UU_] fields for one array.
func memberSummary(a types.RaidArray) (total, up int, memberMap string) {
	maxSlot := -1
	for _, d := range a.Devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare {
			continue
		}
		if d.Slot > maxSlot {
			maxSlot = d.Slot
		}
	}
	total = maxSlot + 1

	slots := make([]byte, total)
	for i := range slots {
		slots[i] = '_'
	}
	for _, d := range a.Devices {
		if d.Role == types.RoleSpare || d.State == types.DeviceSpare {
			continue
		}
		if d.Slot >= 0 && d.Slot < total {
			switch d.State {
			case types.DeviceActive, types.DeviceWriteMostly, types.DeviceRebuilding:
				slots[d.Slot] = 'U'
				up++
			}
		}
	}
	return total, up, string(slots)
}

func progressBar(p float64) string {
	const width = 20
	filled := int(p * width)
	if filled >= width {
		filled = width - 1
	}
	return strings.Repeat("=", filled) + ">" + strings.Repeat(".", width-filled-1)
}

// DetailExport is the typed form of `mdadm --detail --export` output,
// KEY=VALUE per line.
type DetailExport struct {
	DevName    string
	Level      types.RaidLevel
	Devices    int
	Metadata   string
	UUID       string
	Name       string
	ArrayState string
	// DeviceRole maps member device path to its MD_DEVICE_*_ROLE value
	// ("0", "1", "spare", "journal").
	DeviceRole map[string]string
}

// ParseDetailExport parses mdadm --detail --export output.
func ParseDetailExport(data []byte) (DetailExport, error) {
	const op = "raid.ParseDetailExport"

	out := DetailExport{DeviceRole: make(map[string]string)}
	devPaths := make(map[string]string) // export key fragment -> device path

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return DetailExport{}, errdefs.Errorf(errdefs.KindParse, "%s: bad line %q", op, line)
		}

		switch {
		case key == "MD_DEVNAME":
			out.DevName = value
		case key == "MD_LEVEL":
			level, err := types.ParseRaidLevel(value)
			if err != nil {
				return DetailExport{}, errdefs.Errorf(errdefs.KindParse, "%s: %v", op, err)
			}
			out.Level = level
		case key == "MD_DEVICES":
			n, err := strconv.Atoi(value)
			if err != nil {
				return DetailExport{}, errdefs.Errorf(errdefs.KindParse, "%s: bad MD_DEVICES %q", op, value)
			}
			out.Devices = n
		case key == "MD_METADATA":
			out.Metadata = value
		case key == "MD_UUID":
			out.UUID = value
		case key == "MD_NAME":
			out.Name = value
		case key == "MD_ARRAY_STATE":
			out.ArrayState = value
		case strings.HasPrefix(key, "MD_DEVICE_") && strings.HasSuffix(key, "_DEV"):
			frag := strings.TrimSuffix(strings.TrimPrefix(key, "MD_DEVICE_"), "_DEV")
			devPaths[frag] = value
		case strings.HasPrefix(key, "MD_DEVICE_") && strings.HasSuffix(key, "_ROLE"):
			frag := strings.TrimSuffix(strings.TrimPrefix(key, "MD_DEVICE_"), "_ROLE")
			// DEV line may come after ROLE; stash under the fragment and
			// resolve below.
			out.DeviceRole[frag] = value
		}
	}
	if err := sc.Err(); err != nil {
		return DetailExport{}, errdefs.Wrap(err, errdefs.KindIO, op)
	}

	resolved := make(map[string]string, len(out.DeviceRole))
	for frag, role := range out.DeviceRole {
		if path, ok := devPaths[frag]; ok {
			resolved[path] = role
		} else {
			resolved[frag] = role
		}
	}
	out.DeviceRole = resolved
	return out, nil
}
