package mqtt

import (
	"strings"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPublisherConfig() *config.CliConfig {
	return &config.CliConfig{
		MQTTHost:      "127.0.0.1",
		MQTTPort:      1, // nothing listens here
		MQTTQOS:       1,
		MQTTClientID:  "publisher-test",
		MQTTProtocol:  "311",
		MQTTKeepalive: 10,
		TopicPrefix:   "inverter/Huawei",
	}
}

func TestAsyncPublishFailureIsLogged(t *testing.T) {
	hook := logrustest.NewGlobal()
	defer hook.Reset()

	p := NewPublisher(testPublisherConfig())
	// never connected, the token completes with an error
	err := p.Publish("inverter/Huawei/ACTIVE_POWER", "100", false)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if strings.Contains(e.Message, "publish failed") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncPublishFailureReturnsError(t *testing.T) {
	cfg := testPublisherConfig()
	cfg.ForceSync = true

	p := NewPublisher(cfg)
	err := p.Publish("inverter/Huawei/ACTIVE_POWER", "100", false)
	assert.Error(t, err)
}

func TestProtocolVersionMapping(t *testing.T) {
	assert.Equal(t, uint(3), protocolVersion("31"))
	assert.Equal(t, uint(4), protocolVersion("311"))
	assert.Equal(t, uint(4), protocolVersion("3.1.1"))
	// no v5 support in the client library, falls back to 3.1.1
	assert.Equal(t, uint(4), protocolVersion("v5"))
}
