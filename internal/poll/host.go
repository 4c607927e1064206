package poll

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"scanrelay/internal/measurement"
	"scanrelay/internal/scanconfig"
)

// hostGroups maps a scope group name to its sampler.
var hostGroups = map[string]func(ctx context.Context, m *measurement.Measurement) error{
	"cpu":  sampleCPU,
	"mem":  sampleMem,
	"load": sampleLoad,
	"disk": sampleDisk,
	"host": sampleHost,
}

// HostPoller samples the machine the agent runs on. The scope is a comma
// separated list of groups (cpu, mem, load, disk, host); "*" selects all.
type HostPoller struct{}

// Poll implements Task.
func (p *HostPoller) Poll(ctx context.Context, target scanconfig.Target) (measurement.Measurement, error) {
	groups, err := hostScope(target.Scope)
	if err != nil {
		return measurement.Measurement{}, failure(target, "%v", err)
	}

	hostname, _ := os.Hostname()
	m := Build(target, hostname, strings.Join(groups, ","), time.Now(), map[string]string{"arch": runtime.GOARCH})

	for _, g := range groups {
		if err := hostGroups[g](ctx, &m); err != nil {
			return measurement.Measurement{}, failure(target, "sampling %s: %v", g, err)
		}
	}
	return m, nil
}

func hostScope(scope string) ([]string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == "*" || scope == scanconfig.DefaultScope {
		all := make([]string, 0, len(hostGroups))
		for g := range hostGroups {
			all = append(all, g)
		}
		sort.Strings(all)
		return all, nil
	}

	var groups []string
	for _, g := range strings.Split(scope, ",") {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if _, ok := hostGroups[g]; !ok {
			return nil, &unknownGroupError{group: g}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

type unknownGroupError struct{ group string }

func (e *unknownGroupError) Error() string { return "unknown host group " + e.group }

func sampleCPU(ctx context.Context, m *measurement.Measurement) error {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	if len(pct) > 0 {
		m.Fields["cpu.percent"] = pct[0]
	}
	m.Fields["cpu.cores"] = int64(runtime.NumCPU())
	return nil
}

func sampleMem(ctx context.Context, m *measurement.Measurement) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	_ = m.Set("mem.total", vm.Total)
	_ = m.Set("mem.used", vm.Used)
	_ = m.Set("mem.available", vm.Available)
	m.Fields["mem.used_percent"] = vm.UsedPercent
	return nil
}

func sampleLoad(ctx context.Context, m *measurement.Measurement) error {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return err
	}
	m.Fields["load.1"] = avg.Load1
	m.Fields["load.5"] = avg.Load5
	m.Fields["load.15"] = avg.Load15
	return nil
}

func sampleDisk(ctx context.Context, m *measurement.Measurement) error {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	m.Fields["disk.partitions"] = int64(len(partitions))

	root := "/"
	if runtime.GOOS == "windows" {
		root = "C:\\"
	}
	if usage, err := disk.UsageWithContext(ctx, root); err == nil {
		m.Fields["disk.root.used_percent"] = usage.UsedPercent
		_ = m.Set("disk.root.free", usage.Free)
	}
	return nil
}

func sampleHost(ctx context.Context, m *measurement.Measurement) error {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return err
	}
	_ = m.Set("host.uptime", info.Uptime)
	_ = m.Set("host.procs", info.Procs)

	osName := info.Platform
	if info.PlatformVersion != "" {
		osName += " " + info.PlatformVersion
	}
	if runtime.GOOS == "linux" {
		if pretty := readOSReleasePrettyName(); pretty != "" {
			osName = pretty
		}
	}
	if _, ok := m.Tags["os"]; !ok && osName != "" {
		m.Tags["os"] = osName
	}
	if _, ok := m.Tags["kernel"]; !ok && info.KernelVersion != "" {
		m.Tags["kernel"] = info.KernelVersion
	}
	return nil
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			val := strings.TrimPrefix(line, "PRETTY_NAME=")
			return strings.Trim(val, "\"")
		}
	}
	return ""
}
