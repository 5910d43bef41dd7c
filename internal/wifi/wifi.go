package wifi

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/preesu/boardd/internal/system"
	"github.com/sirupsen/logrus"
)

// Auth modes reported in scan results.
const (
	AuthOpen = iota
	AuthWEP
	AuthWPAPSK
	AuthWPA2PSK
	AuthWPAWPA2PSK
	AuthWPA2Enterprise
)

// ScanResult is one access point seen by a scan.
type ScanResult struct {
	SSID    string `json:"ssid"`
	BSSID   string `json:"bssid"`
	Auth    int    `json:"auth"`
	Channel int    `json:"channel"`
	RSSI    int    `json:"rssi"`
}

// ScanError reports a failed scan. Code is negative.
type ScanError struct {
	Code int
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("WIFI scan failed (%d): %v", e.Code, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ScanFailed is the code used when the scan command cannot run.
const ScanFailed = -1

// Manager scans for networks and joins them.
type Manager interface {
	Scan(ctx context.Context) ([]ScanResult, error)
	Connect(ctx context.Context, ssid, pass string) error
}

// NMCLI drives NetworkManager through its command line client.
type NMCLI struct {
	bin    string
	runner system.Runner
	logger *logrus.Entry
}

// NewNMCLI creates a Manager that drives the nmcli binary at bin.
func NewNMCLI(bin string, runner system.Runner, logger *logrus.Entry) *NMCLI {
	if bin == "" {
		bin = "nmcli"
	}
	return &NMCLI{bin: bin, runner: runner, logger: logger}
}

// Scan lists the visible access points.
func (n *NMCLI) Scan(ctx context.Context) ([]ScanResult, error) {
	out, err := n.runner.Run(ctx, n.bin, "-t", "-f", "SSID,BSSID,SECURITY,CHAN,SIGNAL", "device", "wifi", "list")
	if err != nil {
		n.logger.Errorf("WiFi scan failed: %v", err)
		return nil, &ScanError{Code: ScanFailed, Err: err}
	}
	res, err := parseScan(string(out))
	if err != nil {
		return nil, &ScanError{Code: ScanFailed, Err: err}
	}
	n.logger.Infof("WiFi scan found %d networks", len(res))
	return res, nil
}

// Connect joins ssid as a station.
func (n *NMCLI) Connect(ctx context.Context, ssid, pass string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if pass != "" {
		args = append(args, "password", pass)
	}
	if _, err := n.runner.Run(ctx, n.bin, args...); err != nil {
		return fmt.Errorf("connect to %q: %w", ssid, err)
	}
	n.logger.Infof("WiFi station connected to %q", ssid)
	return nil
}

func parseScan(out string) ([]ScanResult, error) {
	res := []ScanResult{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		f := splitTerse(line)
		if len(f) != 5 {
			return nil, fmt.Errorf("unexpected scan line %q", line)
		}
		ch, err := strconv.Atoi(f[3])
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", f[3], err)
		}
		signal, err := strconv.Atoi(f[4])
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", f[4], err)
		}
		res = append(res, ScanResult{
			SSID:    f[0],
			BSSID:   strings.ToLower(f[1]),
			Auth:    authMode(f[2]),
			Channel: ch,
			RSSI:    signal/2 - 100,
		})
	}
	return res, nil
}

// splitTerse splits nmcli terse output on ':' honouring backslash escapes.
func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}

func authMode(security string) int {
	s := strings.ToUpper(security)
	switch {
	case s == "" || s == "--":
		return AuthOpen
	case strings.Contains(s, "802.1X"):
		return AuthWPA2Enterprise
	case strings.Contains(s, "WPA1") && strings.Contains(s, "WPA2"):
		return AuthWPAWPA2PSK
	case strings.Contains(s, "WPA2"), strings.Contains(s, "WPA3"):
		return AuthWPA2PSK
	case strings.Contains(s, "WPA"):
		return AuthWPAPSK
	case strings.Contains(s, "WEP"):
		return AuthWEP
	}
	return AuthOpen
}
