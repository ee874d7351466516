package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/helmcode/fixos/pkg/executor"
)

const DefaultProbeTimeout = 20 * time.Second

// Prober runs a read-only command and returns its stdout.
// *executor.Executor implements it.
type Prober interface {
	Probe(ctx context.Context, command string, timeout time.Duration) (string, error)
}

type check struct {
	key     string
	command string
}

// probeModule runs a fixed list of shell checks in order.
type probeModule struct {
	name        string
	description string
	prober      Prober
	timeout     time.Duration
	checks      []check
}

func (m *probeModule) Name() string        { return m.name }
func (m *probeModule) Description() string { return m.description }

func (m *probeModule) Collect(ctx context.Context) (map[string]any, error) {
	out := make(map[string]any, len(m.checks))
	for _, c := range m.checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[c.key] = m.run(ctx, c.command)
	}
	return out, nil
}

// run mirrors what a human would see in a terminal: stdout, with the error
// appended when the command fails.
func (m *probeModule) run(ctx context.Context, command string) string {
	stdout, err := m.prober.Probe(ctx, command, m.timeout)
	switch {
	case executor.IsTimeoutError(err):
		return fmt.Sprintf("[TIMEOUT after %s]", m.timeout)
	case err != nil && stdout != "":
		return stdout + "\n[ERR]: " + err.Error()
	case err != nil:
		return "[ERR]: " + err.Error()
	case stdout == "":
		return "(no output)"
	}
	return stdout
}

func newProbeModule(p Prober, name, description string, checks []check) Module {
	return &probeModule{name: name, description: description, prober: p, timeout: DefaultProbeTimeout, checks: checks}
}

// System reports OS release, kernel, uptime, memory, recent errors and
// pending updates.
func System(p Prober) Module {
	checks := []check{
		{"kernel", "uname -r"},
		{"uptime", "uptime"},
	}
	switch runtime.GOOS {
	case "linux":
		checks = append(checks,
			check{"os_release", "grep -E '^(NAME|VERSION|ID)=' /etc/os-release"},
			check{"memory", "free -h"},
			check{"load_avg", "cat /proc/loadavg"},
			check{"top_processes", "ps -eo pid,comm,%cpu,%mem --sort=-%cpu | head -9"},
			check{"updates_pending", "dnf check-update -q 2>/dev/null | grep -c '^[A-Za-z]' || apt list --upgradable 2>/dev/null | grep -c upgradable || echo 0"},
			check{"pkg_history", "dnf history list --last=5 2>/dev/null || true"},
			check{"journal_errors_24h", "journalctl -p err -n 20 --no-pager --since '24 hours ago' 2>/dev/null"},
			check{"dmesg_errors", "dmesg --level=err,crit,emerg --notime 2>/dev/null | tail -15"},
			check{"selinux", "getenforce 2>/dev/null || echo N/A"},
			check{"firewall", "firewall-cmd --state 2>/dev/null || echo N/A"},
		)
	case "darwin":
		checks = append(checks,
			check{"os_release", "sw_vers"},
			check{"memory", "vm_stat | head -10"},
			check{"updates_pending", "softwareupdate -l 2>/dev/null | grep -c '\\*' || echo 0"},
		)
	}
	return newProbeModule(p, "system", "System (kernel, memory, load, errors)", checks)
}

// Services reports failed service units.
func Services(p Prober) Module {
	checks := []check{
		{"failed_units", "systemctl --failed --no-legend --no-pager 2>/dev/null"},
		{"failed_user_units", "systemctl --user --failed --no-legend --no-pager 2>/dev/null"},
	}
	if runtime.GOOS == "darwin" {
		checks = []check{{"launchd_failed", "launchctl list 2>/dev/null | awk '$2 != 0 && $2 != \"-\" {print}' | head -10"}}
	}
	return newProbeModule(p, "services", "Services (failed units)", checks)
}

// Disk reports filesystem usage and inode pressure.
func Disk(p Prober) Module {
	return newProbeModule(p, "disk", "Disk usage", []check{
		{"usage", "df -hP -x tmpfs -x devtmpfs -x squashfs 2>/dev/null || df -h"},
		{"inodes", "df -iP -x tmpfs -x devtmpfs -x squashfs 2>/dev/null | awk 'NR==1 || $5+0 >= 80'"},
	})
}

// Audio covers the ALSA, PipeWire and firmware state behind most sound
// regressions after an upgrade.
func Audio(p Prober) Module {
	return newProbeModule(p, "audio", "Audio (ALSA, PipeWire, SOF firmware)", []check{
		{"pipewire_version", "pipewire --version 2>/dev/null | head -1"},
		{"pipewire_status", "systemctl --user status pipewire.service --no-pager -l 2>/dev/null | head -20"},
		{"wireplumber_status", "systemctl --user status wireplumber.service --no-pager -l 2>/dev/null | head -20"},
		{"alsa_cards", "cat /proc/asound/cards 2>/dev/null"},
		{"alsa_devices", "aplay -l 2>/dev/null"},
		{"pactl_sinks", "pactl list sinks 2>/dev/null | grep -E '(Name|State|Volume|Mute|Description)' | head -30"},
		{"sof_firmware", "ls /lib/firmware/intel/sof* 2>/dev/null | head -10"},
		{"sof_modules", "lsmod | grep -E '(sof|snd_hda|intel_sst|avs)'"},
		{"kernel_audio_dmesg", "dmesg 2>/dev/null | grep -iE '(snd|audio|alsa|hda|sof|codec)' | tail -30"},
		{"audio_packages", "rpm -qa 2>/dev/null | grep -E '(alsa|pipewire|pulseaudio|sof-firmware|wireplumber)' | sort"},
	})
}

// Hardware identifies the machine and its graphics, input and power stack.
func Hardware(p Prober) Module {
	return newProbeModule(p, "hardware", "Hardware (DMI, GPU, input, power)", []check{
		{"dmi_product", "cat /sys/class/dmi/id/product_name 2>/dev/null"},
		{"dmi_vendor", "cat /sys/class/dmi/id/sys_vendor 2>/dev/null"},
		{"bios_version", "cat /sys/class/dmi/id/bios_version 2>/dev/null"},
		{"cpu_model", "grep -m1 'model name' /proc/cpuinfo | cut -d: -f2"},
		{"gpu_info", "lspci -nn 2>/dev/null | grep -iE '(vga|3d|display)'"},
		{"session_type", "echo \"$XDG_SESSION_TYPE $WAYLAND_DISPLAY\""},
		{"touchpad_driver", "lsmod | grep -E '(i2c_hid|hid_multitouch|psmouse)'"},
		{"battery_status", "upower -i $(upower -e | grep battery) 2>/dev/null | grep -E '(state|percentage|energy)'"},
		{"power_profile", "powerprofilesctl get 2>/dev/null || echo N/A"},
		{"sensors", "sensors 2>/dev/null || echo N/A"},
	})
}

// Local returns the probe-backed modules in their default order.
func Local(p Prober) []Module {
	return []Module{System(p), Services(p), Disk(p), Audio(p), Hardware(p)}
}

// OSInfo describes the running OS in one line, e.g. "Fedora Linux 40 (linux/amd64, kernel 6.8.5)".
func OSInfo(ctx context.Context, p Prober) string {
	name := runtime.GOOS
	if runtime.GOOS == "linux" {
		if out, err := p.Probe(ctx, ". /etc/os-release && echo \"$PRETTY_NAME\"", 5*time.Second); err == nil && out != "" {
			name = out
		}
	} else if runtime.GOOS == "darwin" {
		if out, err := p.Probe(ctx, "sw_vers -productName && sw_vers -productVersion", 5*time.Second); err == nil && out != "" {
			name = strings.Join(strings.Fields(out), " ")
		}
	}
	info := fmt.Sprintf("%s (%s/%s", name, runtime.GOOS, runtime.GOARCH)
	if kernel, err := p.Probe(ctx, "uname -r", 5*time.Second); err == nil && kernel != "" {
		info += ", kernel " + kernel
	}
	return info + ")"
}
