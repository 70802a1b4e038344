package netif

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/plexsphere/bondd/internal/link"
)

// cellularPrefixes are interface name prefixes used by modem drivers.
var cellularPrefixes = []string{"wwan", "wwp", "rmnet", "ppp", "usb_modem"}

// cellularDrivers are kernel drivers that expose cellular modems as netdevs.
var cellularDrivers = map[string]bool{
	"qmi_wwan":       true,
	"cdc_mbim":       true,
	"option":         true,
	"huawei_cdc_ncm": true,
	"sierra_net":     true,
}

// sysfs reads interface attributes below configurable sysfs and procfs roots.
type sysfs struct {
	sysRoot  string
	procRoot string
}

// validateIfaceName checks that the interface name is safe for use in filesystem paths.
func validateIfaceName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("netif: invalid interface name %q", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("netif: invalid interface name %q: contains prohibited character", name)
	}
	return nil
}

func (s sysfs) netPath(name string, elem ...string) string {
	return filepath.Join(append([]string{s.sysRoot, "class", "net", name}, elem...)...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// classify derives the link kind from sysfs. Interfaces without a backing
// device are virtual and reported as overlays.
func (s sysfs) classify(name string) (kind link.Kind, usb, overlay bool) {
	if err := validateIfaceName(name); err != nil {
		return "", false, true
	}
	if !exists(s.netPath(name, "device")) {
		return "", false, true
	}

	if devPath, err := filepath.EvalSymlinks(s.netPath(name, "device")); err == nil {
		usb = strings.Contains(devPath, "/usb")
	}

	switch {
	case exists(s.netPath(name, "wireless")) || exists(s.netPath(name, "phy80211")):
		return link.KindWiFi, usb, false
	case s.isCellular(name):
		return link.KindCellular, usb, false
	case usb:
		return link.KindAdapter, true, false
	default:
		return link.KindEthernet, false, false
	}
}

func (s sysfs) isCellular(name string) bool {
	for _, p := range cellularPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	driver, err := filepath.EvalSymlinks(s.netPath(name, "device", "driver"))
	if err != nil {
		return false
	}
	return cellularDrivers[filepath.Base(driver)]
}

// speed returns the negotiated rate in Mbps, or 0 when the driver does not report one.
func (s sysfs) speed(name string) float64 {
	data, err := os.ReadFile(s.netPath(name, "speed"))
	if err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v <= 0 {
		return 0
	}
	return float64(v)
}

// carrier reports the operational carrier state.
func (s sysfs) carrier(name string) bool {
	data, err := os.ReadFile(s.netPath(name, "carrier"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// signals parses /proc/net/wireless into RSSI values keyed by interface name.
func (s sysfs) signals() map[string]int {
	f, err := os.Open(filepath.Join(s.procRoot, "net", "wireless"))
	if err != nil {
		return nil
	}
	defer f.Close()

	out := make(map[string]int)
	sc := bufio.NewScanner(f)
	for lineNo := 0; sc.Scan(); lineNo++ {
		if lineNo < 2 {
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[0], ":")
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[3], "."), 64)
		if err != nil {
			continue
		}
		out[name] = int(level)
	}
	return out
}
