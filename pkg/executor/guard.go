package executor

import (
	"fmt"
	"regexp"
	"strings"
)

type dangerRule struct {
	pattern *regexp.Regexp
	reason  string
}

const (
	// A recursive flag among any other short or long options.
	recursiveFlags = `(?:\s+-{1,2}[a-z-]+)*\s+(?:-[a-z]*r[a-z]*|--recursive)(?:\s+-{1,2}[a-z-]+)*\s+`
	rmRecursive    = `(?i)\brm` + recursiveFlags
	chRecursive    = `(?i)\bch(?:mod|own|grp)` + recursiveFlags + `\S+\s+`
	// "/", "/.", "/./", "//" and "/*", optionally quoted.
	rootTarget   = `['"]?/[/.]*\*?['"]?`
	systemTarget = `['"]?/(?:boot|etc|usr|lib|lib64|bin|sbin|sys|proc|dev|var|root|home)/?\.?\*?['"]?`
	cmdEnd       = `(?:\s|;|&|\||$)`
	blockDevice  = `/dev/(?:sd[a-z]|nvme\d|vd[a-z]|hd[a-z]|xvd[a-z]|mmcblk\d)`
)

var dangerRules = []dangerRule{
	{regexp.MustCompile(rmRecursive + rootTarget + cmdEnd), "recursive delete of the filesystem root"},
	{regexp.MustCompile(rmRecursive + systemTarget + cmdEnd), "recursive delete of a system directory"},
	{regexp.MustCompile(`(?i)\brm\s+.*--no-preserve-root`), "rm with --no-preserve-root"},
	{regexp.MustCompile(`(?i)\bdd\s+.*\bof=` + blockDevice), "raw overwrite of a block device with dd"},
	{regexp.MustCompile(`(?i)\b(?:mkfs(?:\.[a-z0-9]+)?|mke2fs|mkswap|wipefs)\b`), "filesystem formatting"},
	{regexp.MustCompile(`>\s*` + blockDevice), "redirect onto a block device"},
	{regexp.MustCompile(`(?i)\bshred\b.*\s` + blockDevice), "shredding a block device"},
	{regexp.MustCompile(`:\s*\(\s*\)\s*\{.*:\s*\|\s*:.*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(chRecursive + rootTarget + cmdEnd), "recursive permission or ownership change on the filesystem root"},
	{regexp.MustCompile(chRecursive + systemTarget + cmdEnd), "recursive permission or ownership change on a system directory"},
	{regexp.MustCompile(`(?i)\b(?:curl|wget)\b.*\|\s*(?:sudo\s+)?(?:ba|z|da|k)?sh\b`), "downloading and piping a script into a shell"},
	{regexp.MustCompile(`(?i)\biptables\s+(?:-t\s+\w+\s+)?-F\b`), "flushing firewall rules"},
	{regexp.MustCompile(`(?i)\bpasswd\s+root\b`), "changing the root password"},
	{regexp.MustCompile(`(?i)\bdiskutil\s+(?:erase\w*|zerodisk|randomdisk|secureerase|partitiondisk)\b`), "erasing a disk with diskutil"},
	{regexp.MustCompile(`(?i)\bformat(?:\.com)?\s+[a-z]:`), "formatting a Windows volume"},
	{regexp.MustCompile(`(?i)\b(?:rd|rmdir)\s+/s\s+(?:/q\s+)?[a-z]:\\?` + cmdEnd), "recursive delete of a Windows drive root"},
	{regexp.MustCompile(`(?i)\bremove-item\b.*-recurse.*\s[a-z]:\\?` + cmdEnd), "recursive delete of a Windows drive root"},
	{regexp.MustCompile(`(?i)\b(?:diskpart|bcdedit\s+/delete)\b`), "destructive Windows disk or boot configuration tool"},
}

// IsDangerous returns the reason of the first destructive pattern the command matches.
func IsDangerous(command string) (string, bool) {
	for _, r := range dangerRules {
		if r.pattern.MatchString(command) {
			return r.reason, true
		}
	}
	return "", false
}

const elevationToken = "sudo"

// Commands whose first word always needs root.
var elevatedCommands = map[string]struct{}{
	"dnf": {}, "yum": {}, "rpm": {}, "apt": {}, "apt-get": {}, "dpkg": {}, "zypper": {}, "pacman": {}, "snap": {},
	"systemctl": {}, "service": {}, "firewall-cmd": {}, "setenforce": {}, "ufw": {},
	"chown": {}, "modprobe": {}, "rmmod": {}, "insmod": {}, "depmod": {}, "dracut": {},
	"mount": {}, "umount": {}, "fdisk": {}, "parted": {}, "lvextend": {}, "resize2fs": {}, "xfs_growfs": {},
	"useradd": {}, "userdel": {}, "usermod": {}, "groupadd": {},
	"update-grub": {}, "grub2-mkconfig": {}, "alsactl": {},
}

// Raw prefixes that need root regardless of the following text.
var elevatedPrefixes = []string{"chmod 0", "grub2-"}

// NeedsElevation reports whether command must run as root and is not
// already elevated.
func NeedsElevation(command string) bool {
	cmd := strings.TrimSpace(command)
	if cmd == "" || isElevated(cmd) {
		return false
	}
	first := strings.Fields(cmd)[0]
	if _, ok := elevatedCommands[first]; ok {
		return true
	}
	for _, p := range elevatedPrefixes {
		if strings.HasPrefix(cmd, p) {
			return true
		}
	}
	return false
}

func isElevated(cmd string) bool {
	return cmd == elevationToken || strings.HasPrefix(cmd, elevationToken+" ")
}

// Elevate prefixes the elevation token when required. Already elevated and
// unprivileged commands are returned unchanged.
func Elevate(command string) string {
	if !NeedsElevation(command) {
		return command
	}
	return elevationToken + " " + strings.TrimSpace(command)
}

type idempotencyCheck struct {
	pattern *regexp.Regexp
	probe   string
}

const probeArgs = `([\w./@:+-]+(?:\s+[\w./@:+-]+)*)`

var idempotencyChecks = []idempotencyCheck{
	{regexp.MustCompile(`^(?:sudo\s+)?(?:dnf|yum)\s+(?:-y\s+)?install\s+(?:-y\s+)?` + probeArgs + `$`), "rpm -q %s >/dev/null 2>&1"},
	{regexp.MustCompile(`^(?:sudo\s+)?apt(?:-get)?\s+(?:-y\s+)?install\s+(?:-y\s+)?` + probeArgs + `$`), "dpkg -s %s >/dev/null 2>&1"},
	{regexp.MustCompile(`^(?:sudo\s+)?systemctl\s+enable\s+--now\s+` + probeArgs + `$`), "systemctl is-enabled --quiet %[1]s && systemctl is-active --quiet %[1]s"},
	{regexp.MustCompile(`^(?:sudo\s+)?systemctl\s+enable\s+` + probeArgs + `$`), "systemctl is-enabled --quiet %s"},
	{regexp.MustCompile(`^(?:sudo\s+)?systemctl\s+start\s+` + probeArgs + `$`), "systemctl is-active --quiet %s"},
	{regexp.MustCompile(`^(?:sudo\s+)?mkdir\s+-p\s+` + probeArgs + `$`), "test -d %s"},
}

// CheckIdempotent returns a read-only probe whose success means the command
// has nothing left to do.
func CheckIdempotent(command string) (string, bool) {
	cmd := strings.TrimSpace(command)
	for _, c := range idempotencyChecks {
		m := c.pattern.FindStringSubmatch(cmd)
		if m == nil {
			continue
		}
		return fmt.Sprintf(c.probe, m[1]), true
	}
	return "", false
}
