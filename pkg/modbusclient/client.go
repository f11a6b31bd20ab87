package modbusclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/registers"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/state"
)

// Source is the modbus side of the bridge. The polling loop owns the
// single connection and drives Connect/Disconnect explicitly.
type Source interface {
	Connect() error
	Read(def registers.Definition) (state.Value, error)
	Disconnect() error
}

var ErrNotConnected = errors.New("modbus client not connected")

type Client struct {
	host        string
	port        string // numeric or "auto"
	slaveID     byte
	timeout     time.Duration
	maxRegReads uint16

	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func New(host, port string, slaveID byte, timeout time.Duration, maxRegReads uint16) *Client {
	return &Client{
		host:        host,
		port:        port,
		slaveID:     slaveID,
		timeout:     timeout,
		maxRegReads: maxRegReads,
	}
}

// autoPorts is the probe order for port "auto". 502 is the standard
// modbus port, 6607 is used by SUN2000 firmwares with the internal
// dongle.
var autoPorts = []string{"502", "6607"}

func (c *Client) Connect() error {
	ports := []string{c.port}
	if c.port == "auto" {
		ports = autoPorts
	}

	var lastErr error
	for _, port := range ports {
		addr := net.JoinHostPort(c.host, port)
		handler := modbus.NewTCPClientHandler(addr)
		handler.SlaveId = c.slaveID
		handler.Timeout = c.timeout
		err := handler.Connect()
		if err != nil {
			lastErr = fmt.Errorf("error connecting to %s: %w", addr, err)
			logrus.Debugf("modbus connect failed on %s: %v", addr, err)
			continue
		}
		logrus.WithFields(logrus.Fields{"address": addr, "slave": c.slaveID}).Info("modbus connected")
		c.handler = handler
		c.client = modbus.NewClient(handler)
		return nil
	}
	return lastErr
}

func (c *Client) Read(def registers.Definition) (state.Value, error) {
	if c.client == nil {
		return state.Value{}, ErrNotConnected
	}
	if c.maxRegReads > 0 && def.Quantity > c.maxRegReads {
		return state.Value{}, fmt.Errorf("%s needs %d registers, max_reg_reads is %d", def.Name, def.Quantity, c.maxRegReads)
	}

	b, err := c.client.ReadHoldingRegisters(def.Address, def.Quantity)
	if err != nil {
		return state.Value{}, fmt.Errorf("error reading %s (address %d): %w", def.Name, def.Address, err)
	}
	return Decode(def, b)
}

func (c *Client) Disconnect() error {
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	return err
}

// Decode interprets a register payload. Words are big endian, high
// word first, matching the SUN2000 register map.
func Decode(def registers.Definition, data []byte) (state.Value, error) {
	if int(def.Quantity)*2 != len(data) {
		return state.Value{}, fmt.Errorf("%s: expected %d bytes got %d", def.Name, def.Quantity*2, len(data))
	}

	buf := bytes.NewBuffer(data)
	switch def.Kind {
	case registers.U16:
		var raw uint16
		binary.Read(buf, binary.BigEndian, &raw)
		return state.Number(float64(raw) / def.Gain), nil
	case registers.I16:
		var raw int16
		binary.Read(buf, binary.BigEndian, &raw)
		return state.Number(float64(raw) / def.Gain), nil
	case registers.U32:
		var raw uint32
		binary.Read(buf, binary.BigEndian, &raw)
		return state.Number(float64(raw) / def.Gain), nil
	case registers.I32:
		var raw int32
		binary.Read(buf, binary.BigEndian, &raw)
		return state.Number(float64(raw) / def.Gain), nil
	case registers.Str:
		return state.Text(string(bytes.TrimRight(data, "\x00"))), nil
	case registers.Status:
		var raw uint16
		binary.Read(buf, binary.BigEndian, &raw)
		return state.Text(registers.StatusText(raw)), nil
	}
	return state.Value{}, fmt.Errorf("%s: unhandled register kind %d", def.Name, def.Kind)
}
