package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/app"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/config"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/modbusclient"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
)

func TestBridgeEndToEnd(t *testing.T) {
	logrus.SetLevel(logrus.DebugLevel)

	brokerCtx, stopBroker := context.WithCancel(context.Background())
	defer stopBroker()
	wg := &sync.WaitGroup{}
	broker, err := mqtt.StartBroker(brokerCtx, wg, "127.0.0.1:11883")
	require.NoError(t, err)

	inverter := mbserver.NewServer()
	require.NoError(t, inverter.ListenTCP("127.0.0.1:1502"))
	defer inverter.Close()

	inverter.HoldingRegisters[32080] = 0    // ACTIVE_POWER high word
	inverter.HoldingRegisters[32081] = 5000 // ACTIVE_POWER low word
	inverter.HoldingRegisters[32066] = 2331 // GRID_VOLTAGE 233.1V
	inverter.HoldingRegisters[32089] = 0x0200

	var mu sync.Mutex
	received := map[string][]string{}
	err = broker.Subscribe("inverter/Huawei/#", 1, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		mu.Lock()
		received[pk.TopicName] = append(received[pk.TopicName], string(pk.Payload))
		mu.Unlock()
	})
	require.NoError(t, err)

	cfg := &config.CliConfig{
		InverterIP:       "127.0.0.1",
		ModbusPort:       "1502",
		ModbusSlaveID:    1,
		ModbusTimeout:    1,
		MQTTHost:         "127.0.0.1",
		MQTTPort:         11883,
		MQTTQOS:          1,
		MQTTClientID:     "huaweibridge-e2e",
		MQTTProtocol:     "311",
		MQTTKeepalive:    10,
		TopicPrefix:      "inverter/Huawei",
		ReadInterval:     0.05,
		PerReadDelay:     0.001,
		PeriodicEvery:    2,
		ForceSync:        true,
		MaxRegReads:      60,
		VarsImmediate:    `["ACTIVE_POWER","GRID_VOLTAGE"]`,
		VarsPeriodic:     `["DEVICE_STATUS"]`,
		FailureThreshold: 3,
		Cooldown:         1,
		HealthInterval:   0.1,
		LockDir:          t.TempDir(),
		LogLevel:         "debug",
	}
	require.NoError(t, cfg.Validate())

	source := modbusclient.New(cfg.InverterIP, cfg.ModbusPort, byte(cfg.ModbusSlaveID), cfg.ModbusTimeoutDuration(), uint16(cfg.MaxRegReads))
	sink := mqtt.NewPublisher(cfg)

	appCtx, stopApp := context.WithCancel(context.Background())
	bridge := app.New(cfg, source, sink)
	require.NoError(t, bridge.Start(appCtx))

	get := func(topic string) []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string{}, received["inverter/Huawei/"+topic]...)
	}

	assert.Eventually(t, func() bool {
		return len(get("ACTIVE_POWER")) > 1 &&
			len(get("GRID_VOLTAGE")) > 0 &&
			len(get("DEVICE_STATUS")) > 0 &&
			len(get("health")) > 0
	}, 10*time.Second, 10*time.Millisecond)

	assert.Equal(t, "5000", get("ACTIVE_POWER")[0])
	assert.Equal(t, "233.1", get("GRID_VOLTAGE")[0])
	assert.Equal(t, "On-grid", get("DEVICE_STATUS")[0])
	assert.Contains(t, get("status"), "online")
	assert.Contains(t, get("health")[0], `"ok_total"`)

	stopApp()
	bridge.Wait()

	assert.Eventually(t, func() bool {
		status := get("status")
		return len(status) > 0 && status[len(status)-1] == "offline"
	}, 5*time.Second, 10*time.Millisecond)

	stopBroker()
	wg.Wait()
}
