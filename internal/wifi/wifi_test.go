package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	out  string
	err  error
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.args = append([]string{name}, args...)
	return []byte(f.out), f.err
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestScanParsesTerseOutput(t *testing.T) {
	r := &fakeRunner{out: "Home:AA\\:BB\\:CC\\:DD\\:EE\\:0F:WPA2:6:70\n" +
		"Cafe\\:Guest:11\\:22\\:33\\:44\\:55\\:66::11:30\n" +
		"Office:01\\:02\\:03\\:04\\:05\\:06:WPA1 WPA2:1:100\n" +
		"Corp:01\\:02\\:03\\:04\\:05\\:07:WPA2 802.1X:36:50\n"}
	m := NewNMCLI("", r, testLogger())

	res, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ScanResult{
		{SSID: "Home", BSSID: "aa:bb:cc:dd:ee:0f", Auth: AuthWPA2PSK, Channel: 6, RSSI: -65},
		{SSID: "Cafe:Guest", BSSID: "11:22:33:44:55:66", Auth: AuthOpen, Channel: 11, RSSI: -85},
		{SSID: "Office", BSSID: "01:02:03:04:05:06", Auth: AuthWPAWPA2PSK, Channel: 1, RSSI: -50},
		{SSID: "Corp", BSSID: "01:02:03:04:05:07", Auth: AuthWPA2Enterprise, Channel: 36, RSSI: -75},
	}, res)
	assert.Equal(t, "nmcli", r.args[0])
}

func TestScanEmpty(t *testing.T) {
	m := NewNMCLI("nmcli", &fakeRunner{}, testLogger())
	res, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NotNil(t, res)
}

func TestScanFailure(t *testing.T) {
	m := NewNMCLI("nmcli", &fakeRunner{err: errors.New("no wifi device")}, testLogger())
	_, err := m.Scan(context.Background())

	var se *ScanError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ScanFailed, se.Code)

	m = NewNMCLI("nmcli", &fakeRunner{out: "garbage\n"}, testLogger())
	_, err = m.Scan(context.Background())
	assert.True(t, errors.As(err, &se))
}

func TestConnect(t *testing.T) {
	r := &fakeRunner{}
	m := NewNMCLI("/usr/bin/nmcli", r, testLogger())
	require.NoError(t, m.Connect(context.Background(), "Home", "secret"))
	assert.Equal(t, []string{"/usr/bin/nmcli", "device", "wifi", "connect", "Home", "password", "secret"}, r.args)

	require.NoError(t, m.Connect(context.Background(), "Open", ""))
	assert.Equal(t, []string{"/usr/bin/nmcli", "device", "wifi", "connect", "Open"}, r.args)
}
