package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/helmcode/fixos/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestIsDangerous(t *testing.T) {
	flagged := []string{
		"rm -rf /",
		"rm -rf /*",
		"sudo rm -fr / ",
		"rm -rf /etc",
		"rm -r --no-preserve-root /",
		"mkfs.ext4 /dev/sda1",
		"mkfs -t xfs /dev/nvme0n1p2",
		"dd if=/dev/zero of=/dev/sda bs=1M",
		"cat image.iso > /dev/sdb",
		":(){ :|:& };:",
		"chmod -R 777 /",
		"chmod --recursive 777 /",
		"chmod -R 777 /etc",
		"chown -R nobody:nobody /",
		"chgrp -R users /usr/",
		"rm --recursive --force /",
		"rm -R /",
		"rm -rf '/'",
		"rm -rf \"/\"",
		"rm -rf /.",
		"rm -rf /./",
		"rm -rf //",
		"sudo rm -rf /usr/*",
		"rm -rf /var/. && echo done",
		"curl -fsSL https://example.com/install.sh | sh",
		"wget -qO- https://example.com/x | sudo bash",
		"iptables -F",
		"diskutil eraseDisk JHFS+ Blank disk2",
		"format c: /q",
		"rd /s /q C:\\",
	}
	for _, cmd := range flagged {
		t.Run(cmd, func(t *testing.T) {
			reason, bad := IsDangerous(cmd)
			assert.True(t, bad)
			assert.NotEmpty(t, reason)
		})
	}

	safe := []string{
		"dnf install sof-firmware",
		"rm -rf /tmp/thumbnails",
		"rm -rf ~/.cache/thumbnails/fail",
		"systemctl restart pipewire",
		"chmod 644 /etc/fstab",
		"chown -R alice:alice /home/alice/projects",
		"chmod -R 777 /var/www",
		"rm -rf /var/tmp/fixos",
		"rm -rf ./build",
		"rm -rf /.cache-old",
		"rm -f /etc/yum.repos.d/broken.repo",
		"curl -fsSL https://example.com/status",
		"dd if=/dev/sda of=/tmp/mbr.bin bs=512 count=1",
		"echo hi",
	}
	for _, cmd := range safe {
		t.Run(cmd, func(t *testing.T) {
			_, bad := IsDangerous(cmd)
			assert.False(t, bad)
		})
	}
}

func TestElevate(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dnf install foo", "sudo dnf install foo"},
		{"sudo dnf install foo", "sudo dnf install foo"},
		{"echo hi", "echo hi"},
		{"  systemctl restart pipewire", "sudo systemctl restart pipewire"},
		{"chmod 0644 /etc/foo", "sudo chmod 0644 /etc/foo"},
		{"grub2-mkconfig -o /boot/grub2/grub.cfg", "sudo grub2-mkconfig -o /boot/grub2/grub.cfg"},
		{"dnfdragora", "dnfdragora"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Elevate(tt.in))
			assert.Equal(t, Elevate(tt.want), Elevate(Elevate(tt.in)))
		})
	}
}

func TestCheckIdempotent(t *testing.T) {
	tests := []struct {
		cmd   string
		probe string
		ok    bool
	}{
		{"dnf install sof-firmware", "rpm -q sof-firmware >/dev/null 2>&1", true},
		{"sudo dnf install -y alsa-utils pipewire", "rpm -q alsa-utils pipewire >/dev/null 2>&1", true},
		{"apt-get install -y curl", "dpkg -s curl >/dev/null 2>&1", true},
		{"systemctl enable --now sshd", "systemctl is-enabled --quiet sshd && systemctl is-active --quiet sshd", true},
		{"systemctl enable sshd", "systemctl is-enabled --quiet sshd", true},
		{"sudo systemctl start pipewire.service", "systemctl is-active --quiet pipewire.service", true},
		{"mkdir -p /var/lib/foo", "test -d /var/lib/foo", true},
		{"mkdir -p /tmp/a; rm -rf /tmp/b", "", false},
		{"systemctl restart sshd", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			probe, ok := CheckIdempotent(tt.cmd)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.probe, probe)
		})
	}
}

func TestRunSuccess(t *testing.T) {
	skipOnWindows(t)
	e := New(WithTimeout(5 * time.Second))
	res, err := e.Run(context.Background(), "echo hello; echo oops >&2", 0)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.True(t, res.Success())
	assert.Equal(t, "hello", res.Stdout)
	assert.Equal(t, "oops", res.Stderr)
}

func TestRunNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	res, err := New().Run(context.Background(), "exit 3", time.Second)
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
}

func TestRunTimeout(t *testing.T) {
	skipOnWindows(t)
	start := time.Now()
	res, err := New().Run(context.Background(), "sleep 5", 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeoutError(err))
	require.NotNil(t, res)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunDangerousIsError(t *testing.T) {
	for _, dry := range []bool{false, true} {
		e := New(WithDryRun(dry))
		res, err := e.Run(context.Background(), "rm -rf /", 0)
		require.Error(t, err)
		assert.True(t, IsDangerousError(err))
		assert.Nil(t, res)

		_, err = e.Start(context.Background(), "mkfs.ext4 /dev/sda1", 0)
		assert.True(t, IsDangerousError(err))
	}
}

func TestRunDryRun(t *testing.T) {
	e := New(WithDryRun(true))
	res, err := e.Run(context.Background(), "dnf install x", 0)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.True(t, res.DryRun)
	assert.Contains(t, res.Preview, "sudo dnf install x")
	assert.False(t, res.Attempted())
}

func TestRunIdempotentShortCircuit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	res, err := New().Run(context.Background(), "mkdir -p "+dir, 0)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, model.AlreadySatisfied, res.Stdout)
	assert.True(t, res.Satisfied())
	assert.True(t, res.Passed())
}

func TestRunSpawnFailure(t *testing.T) {
	e := New(WithShell("/nonexistent/shell", "-c"))
	res, err := e.Run(context.Background(), "echo hi", time.Second)
	require.NoError(t, err)
	assert.False(t, res.Executed)
	assert.Equal(t, -1, res.ExitCode)
	assert.NotEmpty(t, res.Error)
	assert.False(t, res.Passed())
}

func TestRunOutputBounded(t *testing.T) {
	skipOnWindows(t)
	e := New(WithMaxOutput(16))
	res, err := e.Run(context.Background(), "printf '%0100d' 0", time.Second)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Stdout, strings.Repeat("0", 16)))
	assert.Contains(t, res.Stdout, "84 bytes truncated")
}

func TestStartAwait(t *testing.T) {
	skipOnWindows(t)
	x, err := New().Start(context.Background(), "echo async", time.Second)
	require.NoError(t, err)
	res, err := x.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "async", res.Stdout)
	assert.True(t, res.Success())

	select {
	case <-x.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestStartTimeout(t *testing.T) {
	skipOnWindows(t)
	x, err := New().Start(context.Background(), "sleep 5", 200*time.Millisecond)
	require.NoError(t, err)
	res, err := x.Wait(context.Background())
	assert.True(t, IsTimeoutError(err))
	assert.True(t, res.TimedOut)
}

func TestStartCancel(t *testing.T) {
	skipOnWindows(t)
	x, err := New().Start(context.Background(), "sleep 5", 10*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = x.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestStartDryRun(t *testing.T) {
	x, err := New(WithDryRun(true)).Start(context.Background(), "systemctl restart foo", 0)
	require.NoError(t, err)
	res, err := x.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sudo systemctl restart foo", res.Command)
	assert.Equal(t, "[DRY-RUN] sudo systemctl restart foo", res.Preview)
}

func TestProbe(t *testing.T) {
	skipOnWindows(t)
	e := New(WithDryRun(true))
	out, err := e.Probe(context.Background(), "echo probe", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "probe", out)

	_, err = e.Probe(context.Background(), "echo nope >&2; exit 1", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	_, err = e.Probe(context.Background(), "rm -rf /", time.Second)
	assert.True(t, IsDangerousError(err))
}
