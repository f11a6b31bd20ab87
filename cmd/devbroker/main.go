package main

import (
	"context"
	"flag"
	"os/signal"
	"sync"
	"syscall"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/mqtt"
)

// local broker for developing against the bridge without mosquitto.
// Logs everything published below the topic prefix.
func main() {
	address := flag.String("address", ":1883", "listen address")
	prefix := flag.String("prefix", "inverter/Huawei", "topic prefix to log")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wg := &sync.WaitGroup{}
	server, err := mqtt.StartBroker(ctx, wg, *address)
	if err != nil {
		logrus.Fatal(err)
	}

	err = server.Subscribe(*prefix+"/#", 1, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		logrus.WithFields(logrus.Fields{
			"client": cl.ID,
			"topic":  pk.TopicName,
		}).Infof("payload: %s", string(pk.Payload))
	})
	if err != nil {
		logrus.Fatal(err)
	}

	wg.Wait()
}
