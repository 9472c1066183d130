package task

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"rgbdapi/config"
)

var ErrInsufficientResources = errors.New("insufficient system resources")

// ResourceCheck decides whether the host can take a job writing into dir.
type ResourceCheck func(dir string) error

// SystemResourceCheck verifies idle CPU, free memory and free disk against
// the throttle settings. A zero threshold disables that check.
func SystemResourceCheck(cfg *config.Config, logger *slog.Logger) ResourceCheck {
	return func(dir string) error {
		if cfg.ThrottleCPU > 0 {
			p, err := cpu.Percent(time.Second, false)
			if err != nil {
				logger.Warn("could not get CPU usage", "error", err)
			} else if len(p) > 0 && p[0] > (100.0-cfg.ThrottleCPU) {
				return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], cfg.ThrottleCPU)
			}
		}

		if cfg.ThrottleFreeMem > 0 {
			vm, err := mem.VirtualMemory()
			if err != nil {
				logger.Warn("could not get memory usage", "error", err)
			} else if vm.Available < uint64(cfg.ThrottleFreeMem) {
				return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, cfg.ThrottleFreeMem)
			}
		}

		if cfg.ThrottleFreeDisk > 0 {
			d, err := disk.Usage(dir)
			if err != nil {
				logger.Warn("could not get disk usage", "dir", dir, "error", err)
			} else if d.Free < uint64(cfg.ThrottleFreeDisk) {
				return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, cfg.ThrottleFreeDisk)
			}
		}
		return nil
	}
}
