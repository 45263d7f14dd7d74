package system

import (
	"context"
	"os/exec"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	MinWorkers = 3
	MaxWorkers = 5

	// rough peak footprint of one clip worker (decode + analysis + encode)
	workerMemory = 1 << 30
)

// InitResourceLimits raises the open file limit so parallel ffmpeg pipes do not run out of descriptors
func InitResourceLimits(logger zerolog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read open file limit")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to raise open file limit")
	} else {
		logger.Debug().Uint64("limit", uint64(rLimit.Cur)).Msg("open file limit raised")
	}
}

// RecommendedWorkers sizes the clip worker pool from host CPU and free memory
func RecommendedWorkers() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = MinWorkers
	}

	var available uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		available = vm.Available
	}

	return recommendWorkers(cores, available)
}

func recommendWorkers(cores int, available uint64) int {
	n := cores / 2
	if available > 0 {
		n = min(n, int(available/workerMemory))
	}
	return max(MinWorkers, min(n, MaxWorkers))
}

// GetBestH264Encoder picks a hardware H.264 encoder when ffmpeg has one, else libx264
func GetBestH264Encoder(ctx context.Context, ffmpeg string) string {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	out, err := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	return pickEncoder(string(out))
}

func pickEncoder(encoders string) string {
	// VideoToolbox on macOS, then NVENC
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(encoders, name) {
			return name
		}
	}
	return "libx264"
}
