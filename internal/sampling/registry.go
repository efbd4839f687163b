package sampling

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/trevorr/gmond/internal/wire"
)

// diskMountPoint is the filesystem the disk_free callback reports on. gmond's C implementation samples whatever partition the host
// was configured with; this registry only samples the root, which is
// enough for every collection group this codebase exercises.
const diskMountPoint = "/"

// BuiltinRegistry returns the libmetrics callback table backed by
// shirou/gopsutil/v4, covering the metrics named in the catalog that the
// sampling scheduler is expected to drive.
func BuiltinRegistry() map[string]Callback {
	return map[string]Callback{
		"cpu_user":   cpuUserCallback,
		"load_one":   loadOneCallback,
		"mem_free":   memFreeCallback,
		"disk_free":  diskFreeCallback,
		"os_name":    osNameCallback,
		"os_release": osReleaseCallback,
	}
}

func cpuUserCallback() (wire.Value, error) {
	percents, err := cpu.PercentWithContext(context.Background(), 0, false)
	if err != nil {
		return wire.Value{}, err
	}
	if len(percents) == 0 {
		return wire.Value{}, errUnsupportedMetric
	}
	return wire.FloatValue(float32(percents[0])), nil
}

func loadOneCallback() (wire.Value, error) {
	avg, err := load.AvgWithContext(context.Background())
	if err != nil {
		return wire.Value{}, err
	}
	return wire.FloatValue(float32(avg.Load1)), nil
}

func memFreeCallback() (wire.Value, error) {
	vm, err := mem.VirtualMemoryWithContext(context.Background())
	if err != nil {
		return wire.Value{}, err
	}
	freeKB := float64(vm.Available) / 1024
	return wire.DoubleValue(freeKB), nil
}

func diskFreeCallback() (wire.Value, error) {
	usage, err := disk.UsageWithContext(context.Background(), diskMountPoint)
	if err != nil {
		return wire.Value{}, err
	}
	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	return wire.DoubleValue(freeGB), nil
}

func osNameCallback() (wire.Value, error) {
	return wire.StringValue(runtime.GOOS), nil
}

func osReleaseCallback() (wire.Value, error) {
	info, err := host.InfoWithContext(context.Background())
	if err != nil {
		return wire.StringValue("unknown"), nil
	}
	return wire.StringValue(info.KernelVersion), nil
}
