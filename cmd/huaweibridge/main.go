package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/koding/multiconfig"
	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/app"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/config"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/modbusclient"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/mqtt"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	err := Run(ctx)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	config := &config.CliConfig{}
	err := multiconfig.New().Load(config)
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	logrus.SetLevel(lvl)

	err = config.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"version":       version.Version,
		"inverter":      config.InverterIP,
		"modbus_port":   config.ModbusPort,
		"slave_id":      config.ModbusSlaveID,
		"mqtt":          fmt.Sprintf("%s:%d", config.MQTTHost, config.MQTTPort),
		"client_id":     config.MQTTClientID,
		"read_interval": config.ReadInterval,
	}).Info("starting huaweibridge")

	source := modbusclient.New(
		config.InverterIP,
		config.ModbusPort,
		byte(config.ModbusSlaveID),
		config.ModbusTimeoutDuration(),
		uint16(config.MaxRegReads),
	)
	sink := mqtt.NewPublisher(config)

	app := app.New(config, source, sink)

	err = app.Start(ctx)
	if err != nil {
		return err
	}

	app.Wait()
	return nil
}
