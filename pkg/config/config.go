package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/solbridge/huawei-mqtt-bridge/pkg/registers"
)

// DefaultImmediate and DefaultPeriodic mirror the stock variable lists
// of the original add-on.
var DefaultImmediate = []string{
	"INPUT_POWER", "ACTIVE_POWER", "POWER_FACTOR",
	"GRID_VOLTAGE", "GRID_CURRENT", "GRID_FREQUENCY",
}

var DefaultPeriodic = []string{
	"DEVICE_STATUS", "INTERNAL_TEMPERATURE",
	"DAILY_YIELD_ENERGY", "MONTHLY_YIELD_ENERGY", "YEARLY_YIELD_ENERGY",
}

type CliConfig struct {
	InverterIP    string  `default:"192.168.1.102"`
	ModbusPort    string  `default:"502"` // "auto" probes 502 then 6607
	ModbusSlaveID int     `default:"1"`
	ModbusTimeout float64 `default:"10"` // seconds

	MQTTHost      string `default:"core-mosquitto"`
	MQTTPort      int    `default:"1883"`
	MQTTUsername  string
	MQTTPassword  string
	MQTTQOS       int    `default:"1"`
	MQTTClientID  string `default:"huawei-mqtt-bridge"`
	MQTTProtocol  string `default:"311"`
	MQTTTLS       bool
	MQTTKeepalive int `default:"60"`

	TopicPrefix string `default:"inverter/Huawei"`

	ReadInterval float64 `default:"7"`   // seconds between full cycles
	PerReadDelay float64 `default:"0.4"` // seconds between register reads

	PeriodicEvery int  `default:"5"`
	ForceSync     bool // wait for MQTT delivery on every publish
	MaxRegReads   int  `default:"60"`

	PublishChangedOnly bool
	ChangeEps          float64

	// JSON arrays of register names. Empty means the defaults above.
	VarsImmediate string
	VarsPeriodic  string

	FailureThreshold int     `default:"3"`
	Cooldown         float64 `default:"30"` // seconds
	HealthInterval   float64 `default:"60"` // seconds

	LockDir string `default:"/tmp"`

	LogLevel string `default:"info"`
}

func (c *CliConfig) ImmediateVars() ([]string, error) {
	return parseVars(c.VarsImmediate, DefaultImmediate)
}

func (c *CliConfig) PeriodicVars() ([]string, error) {
	return parseVars(c.VarsPeriodic, DefaultPeriodic)
}

func parseVars(raw string, defaults []string) ([]string, error) {
	if raw == "" {
		return defaults, nil
	}
	var names []string
	err := json.Unmarshal([]byte(raw), &names)
	if err != nil {
		return nil, fmt.Errorf("error parsing variable list %q: %w", raw, err)
	}
	return names, nil
}

func (c *CliConfig) ReadIntervalDuration() time.Duration {
	return secondsToDuration(c.ReadInterval)
}

func (c *CliConfig) PerReadDelayDuration() time.Duration {
	return secondsToDuration(c.PerReadDelay)
}

func (c *CliConfig) CooldownDuration() time.Duration {
	return secondsToDuration(c.Cooldown)
}

func (c *CliConfig) HealthIntervalDuration() time.Duration {
	return secondsToDuration(c.HealthInterval)
}

func (c *CliConfig) ModbusTimeoutDuration() time.Duration {
	return secondsToDuration(c.ModbusTimeout)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Validate checks everything once at startup. Any error here is fatal,
// the config is immutable afterwards.
func (c *CliConfig) Validate() error {
	if c.ModbusPort != "auto" {
		port, err := strconv.Atoi(c.ModbusPort)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("modbus port must be \"auto\" or 1-65535, got %q", c.ModbusPort)
		}
	}
	if c.ModbusSlaveID < 0 || c.ModbusSlaveID > 255 {
		return fmt.Errorf("modbus slave id must be 0-255, got %d", c.ModbusSlaveID)
	}
	if c.MQTTQOS < 0 || c.MQTTQOS > 2 {
		return fmt.Errorf("mqtt qos must be 0-2, got %d", c.MQTTQOS)
	}
	if c.ReadInterval <= 0 {
		return fmt.Errorf("read interval must be positive, got %v", c.ReadInterval)
	}
	if c.PerReadDelay < 0 {
		return fmt.Errorf("per read delay must not be negative, got %v", c.PerReadDelay)
	}
	if c.PeriodicEvery < 1 {
		return fmt.Errorf("periodic every must be at least 1, got %d", c.PeriodicEvery)
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %v", c.Cooldown)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive, got %v", c.HealthInterval)
	}
	if c.ChangeEps < 0 {
		return fmt.Errorf("change eps must not be negative, got %v", c.ChangeEps)
	}

	for _, lists := range []struct {
		key   string
		parse func() ([]string, error)
	}{
		{"vars_immediate", c.ImmediateVars},
		{"vars_periodic", c.PeriodicVars},
	} {
		names, err := lists.parse()
		if err != nil {
			return err
		}
		defs, err := registers.Resolve(names)
		if err != nil {
			return fmt.Errorf("%s: %w", lists.key, err)
		}
		for _, def := range defs {
			if c.MaxRegReads > 0 && int(def.Quantity) > c.MaxRegReads {
				return fmt.Errorf("%s: %s needs %d registers, max_reg_reads is %d", lists.key, def.Name, def.Quantity, c.MaxRegReads)
			}
		}
	}
	return nil
}
