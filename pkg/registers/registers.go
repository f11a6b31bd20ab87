package registers

import "fmt"

type Kind int

const (
	U16 Kind = iota
	I16
	U32
	I32
	Str
	Status
)

// Definition describes one named register block on a SUN2000 inverter.
// Decoded value is raw divided by Gain.
type Definition struct {
	Name     string
	Address  uint16
	Quantity uint16
	Kind     Kind
	Gain     float64
	Unit     string
}

// Table follows the register names exposed by the huawei_solar python
// library so existing VARS_IMMEDIATE/VARS_PERIODIC configs keep working.
var table = []Definition{
	{"MODEL_NAME", 30000, 15, Str, 1, ""},
	{"SERIAL_NUMBER", 30015, 10, Str, 1, ""},
	{"RATED_POWER", 30073, 2, I32, 1, "W"},
	{"PV_01_VOLTAGE", 32016, 1, I16, 10, "V"},
	{"PV_01_CURRENT", 32017, 1, I16, 100, "A"},
	{"PV_02_VOLTAGE", 32018, 1, I16, 10, "V"},
	{"PV_02_CURRENT", 32019, 1, I16, 100, "A"},
	{"INPUT_POWER", 32064, 2, I32, 1, "W"},
	{"GRID_VOLTAGE", 32066, 1, U16, 10, "V"},
	{"LINE_VOLTAGE_B_C", 32067, 1, U16, 10, "V"},
	{"LINE_VOLTAGE_C_A", 32068, 1, U16, 10, "V"},
	{"GRID_A_VOLTAGE", 32069, 1, U16, 10, "V"},
	{"GRID_B_VOLTAGE", 32070, 1, U16, 10, "V"},
	{"GRID_C_VOLTAGE", 32071, 1, U16, 10, "V"},
	{"GRID_CURRENT", 32072, 2, I32, 1000, "A"},
	{"ACTIVE_GRID_A_CURRENT", 32072, 2, I32, 1000, "A"},
	{"ACTIVE_GRID_B_CURRENT", 32074, 2, I32, 1000, "A"},
	{"ACTIVE_GRID_C_CURRENT", 32076, 2, I32, 1000, "A"},
	{"DAY_ACTIVE_POWER_PEAK", 32078, 2, I32, 1, "W"},
	{"ACTIVE_POWER", 32080, 2, I32, 1, "W"},
	{"REACTIVE_POWER", 32082, 2, I32, 1, "var"},
	{"POWER_FACTOR", 32084, 1, I16, 1000, ""},
	{"GRID_FREQUENCY", 32085, 1, U16, 100, "Hz"},
	{"EFFICIENCY", 32086, 1, U16, 100, "%"},
	{"INTERNAL_TEMPERATURE", 32087, 1, I16, 10, "°C"},
	{"INSULATION_RESISTANCE", 32088, 1, U16, 1000, "MOhm"},
	{"DEVICE_STATUS", 32089, 1, Status, 1, ""},
	{"FAULT_CODE", 32090, 1, U16, 1, ""},
	{"ACCUMULATED_YIELD_ENERGY", 32106, 2, U32, 100, "kWh"},
	{"DAILY_YIELD_ENERGY", 32114, 2, U32, 100, "kWh"},
	{"MONTHLY_YIELD_ENERGY", 32116, 2, U32, 100, "kWh"},
	{"YEARLY_YIELD_ENERGY", 32118, 2, U32, 100, "kWh"},
	{"POWER_METER_ACTIVE_POWER", 37113, 2, I32, 1, "W"},
	{"GRID_EXPORTED_ENERGY", 37119, 2, I32, 100, "kWh"},
	{"GRID_ACCUMULATED_ENERGY", 37121, 2, I32, 100, "kWh"},
}

var byName = func() map[string]Definition {
	m := make(map[string]Definition, len(table))
	for _, def := range table {
		m[def.Name] = def
	}
	return m
}()

func Lookup(name string) (Definition, error) {
	def, ok := byName[name]
	if !ok {
		return Definition{}, fmt.Errorf("unknown register name: %s", name)
	}
	return def, nil
}

// Resolve maps an ordered list of names to definitions, preserving
// order so the poll sequence is deterministic.
func Resolve(names []string) ([]Definition, error) {
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		def, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Names returns all known register names, mainly for error messages
// and the hwread tool.
func Names() []string {
	names := make([]string, 0, len(table))
	for _, def := range table {
		names = append(names, def.Name)
	}
	return names
}

var statusNames = map[uint16]string{
	0x0000: "Standby: initializing",
	0x0001: "Standby: detecting insulation resistance",
	0x0002: "Standby: detecting irradiation",
	0x0003: "Standby: grid detecting",
	0x0100: "Starting",
	0x0200: "On-grid",
	0x0201: "Grid connection: power limited",
	0x0202: "Grid connection: self-derating",
	0x0300: "Shutdown: fault",
	0x0301: "Shutdown: command",
	0x0302: "Shutdown: OVGR",
	0x0303: "Shutdown: communication disconnected",
	0x0304: "Shutdown: power limited",
	0x0305: "Shutdown: manual startup required",
	0x0306: "Shutdown: DC switches disconnected",
	0x0308: "Shutdown: low power",
	0x0401: "Grid scheduling: cos(phi)-P curve",
	0x0402: "Grid scheduling: Q-U curve",
	0x0500: "Spot-check ready",
	0x0501: "Spot-checking",
	0x0600: "Inspecting",
	0x0700: "AFCI self check",
	0x0800: "I-V scanning",
	0x0900: "DC input detection",
	0x0A00: "Running: off-grid charging",
	0xA000: "Standby: no irradiation",
}

// StatusText maps a DEVICE_STATUS register value to the human readable
// string the inverter documentation uses.
func StatusText(code uint16) string {
	if s, ok := statusNames[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown status: %d", code)
}
