package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full device configuration. Level 0 is Defaults(); higher
// levels are overlaid from files by Store.
type Config struct {
	Device DeviceConfig `yaml:"device" json:"device"`
	Board  BoardConfig  `yaml:"board" json:"board"`
	RPC    RPCConfig    `yaml:"rpc" json:"rpc"`
	WiFi   WiFiConfig   `yaml:"wifi" json:"wifi"`
	GSM    GSMConfig    `yaml:"gsm" json:"gsm"`
	System SystemConfig `yaml:"system" json:"system"`
	MQTT   MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// DeviceConfig identifies the device in RPC responses and MQTT.
type DeviceConfig struct {
	ID string `yaml:"id" json:"id"`
}

// BoardConfig holds the pin assignment. Pin numbers are BCM numbers, or line
// offsets when Driver is "cdev".
type BoardConfig struct {
	Enable         bool   `yaml:"enable" json:"enable"`
	Driver         string `yaml:"driver" json:"driver"`
	Chip           string `yaml:"chip" json:"chip"`
	Input1         int    `yaml:"input1" json:"input1"`
	Input2         int    `yaml:"input2" json:"input2"`
	Input3         int    `yaml:"input3" json:"input3"`
	Input4         int    `yaml:"input4" json:"input4"`
	Output1        int    `yaml:"output1" json:"output1"`
	Output2        int    `yaml:"output2" json:"output2"`
	Output3        int    `yaml:"output3" json:"output3"`
	Output4        int    `yaml:"output4" json:"output4"`
	PollIntervalMs int    `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	DebounceMs     int    `yaml:"debounce_ms" json:"debounce_ms"`
}

func (b BoardConfig) Inputs() [4]int  { return [4]int{b.Input1, b.Input2, b.Input3, b.Input4} }
func (b BoardConfig) Outputs() [4]int { return [4]int{b.Output1, b.Output2, b.Output3, b.Output4} }

// PollInterval is zero when input monitoring is disabled.
func (b BoardConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMs) * time.Millisecond
}

func (b BoardConfig) Debounce() time.Duration { return time.Duration(b.DebounceMs) * time.Millisecond }

// RPCConfig configures the HTTP and WebSocket listener.
type RPCConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	AuthUser string `yaml:"auth_user" json:"auth_user"`
	// AuthHash is a bcrypt hash; auth is off when empty.
	AuthHash string `yaml:"auth_hash" json:"auth_hash"`
}

// WiFiConfig holds the station and access point settings.
type WiFiConfig struct {
	STA   STAConfig `yaml:"sta" json:"sta"`
	AP    APConfig  `yaml:"ap" json:"ap"`
	NMCLI string    `yaml:"nmcli" json:"nmcli"`
}

// STAConfig is the WiFi station network to join.
type STAConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	SSID   string `yaml:"ssid" json:"ssid"`
	Pass   string `yaml:"pass" json:"pass"`
}

// APConfig controls the fallback access point.
type APConfig struct {
	Enable bool `yaml:"enable" json:"enable"`
}

// GSMConfig configures the modem reconnect.
type GSMConfig struct {
	ReconnectDelayMs int `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
}

// ReconnectDelay is the pause between the GSM disconnect and connect events.
func (g GSMConfig) ReconnectDelay() time.Duration {
	return time.Duration(g.ReconnectDelayMs) * time.Millisecond
}

// SystemConfig holds process level settings.
type SystemConfig struct {
	RestartDelayMs int `yaml:"restart_delay_ms" json:"restart_delay_ms"`
}

// RestartDelay is how long a requested restart waits.
func (s SystemConfig) RestartDelay() time.Duration {
	return time.Duration(s.RestartDelayMs) * time.Millisecond
}

// MQTTConfig configures the broker bridge.
type MQTTConfig struct {
	Enable      bool   `yaml:"enable" json:"enable"`
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	User        string `yaml:"user" json:"user"`
	Pass        string `yaml:"pass" json:"pass"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
}

// LogConfig selects the log level and the text or json format.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Defaults returns the level 0 configuration.
func Defaults() Config {
	return Config{
		Device: DeviceConfig{ID: "preesu-board"},
		Board: BoardConfig{
			Enable:         true,
			Driver:         "rpio",
			Chip:           "gpiochip0",
			Input1:         17,
			Input2:         27,
			Input3:         22,
			Input4:         23,
			Output1:        5,
			Output2:        6,
			Output3:        13,
			Output4:        19,
			PollIntervalMs: 10,
			DebounceMs:     50,
		},
		RPC:    RPCConfig{Addr: ":8080"},
		WiFi:   WiFiConfig{AP: APConfig{Enable: true}, NMCLI: "nmcli"},
		GSM:    GSMConfig{ReconnectDelayMs: 5000},
		System: SystemConfig{RestartDelayMs: 1000},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "boardd",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.RPC.Addr == "" {
		return fmt.Errorf("rpc.addr is required")
	}
	in, out := c.Board.Inputs(), c.Board.Outputs()
	for i := range in {
		if in[i] < 0 {
			return fmt.Errorf("board.input%d: negative pin number %d", i+1, in[i])
		}
		if out[i] < 0 {
			return fmt.Errorf("board.output%d: negative pin number %d", i+1, out[i])
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.MQTT.Enable && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// MergeSTA overlays a partial JSON object such as {"ssid":"x","pass":"y"}
// onto sta. Unknown keys are rejected.
func MergeSTA(sta *STAConfig, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	next := *sta
	if err := dec.Decode(&next); err != nil {
		return fmt.Errorf("wifi.sta: %w", err)
	}
	*sta = next
	return nil
}
