package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/config"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/lease"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/modbusclient"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/registers"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/state"
)

const shutdownGrace = 2 * time.Second

// Sink is the MQTT side of the bridge. Implemented by mqtt.Publisher;
// tests inject fakes.
type Sink interface {
	Connect(ctx context.Context) error
	Publish(topic, payload string, retain bool) error
	PublishSync(topic, payload string, retain bool, timeout time.Duration) error
	IsConnected() bool
	Disconnect(grace time.Duration)
}

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig

	source modbusclient.Source
	sink   Sink

	immediate []registers.Definition
	periodic  []registers.Definition

	counters      *state.Counters
	lastPublished map[string]state.Value
	consecFails   int

	mutex     sync.RWMutex
	connState state.ConnState

	lease *lease.Lease
}

func New(cfg *config.CliConfig, source modbusclient.Source, sink Sink) *App {
	return &App{
		wg:            &sync.WaitGroup{},
		config:        cfg,
		source:        source,
		sink:          sink,
		counters:      state.NewCounters(),
		lastPublished: make(map[string]state.Value),
		connState:     state.Disconnected,
	}
}

func (a *App) Start(ctx context.Context) error {
	names, err := a.config.ImmediateVars()
	if err != nil {
		return err
	}
	a.immediate, err = registers.Resolve(names)
	if err != nil {
		return err
	}
	names, err = a.config.PeriodicVars()
	if err != nil {
		return err
	}
	a.periodic, err = registers.Resolve(names)
	if err != nil {
		return err
	}

	if a.config.LockDir != "" {
		a.lease, err = lease.Acquire(a.config.LockDir, a.config.InverterIP)
		if err != nil {
			return err
		}
	}

	err = a.sink.Connect(ctx)
	if err != nil {
		if a.lease != nil {
			a.lease.Release()
		}
		return err
	}

	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

func (a *App) Counters() *state.Counters {
	return a.counters
}

func (a *App) ConnState() state.ConnState {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.connState
}

func (a *App) setConnState(s state.ConnState) {
	a.mutex.Lock()
	a.connState = s
	a.mutex.Unlock()
}

func (a *App) run(ctx context.Context) {
	defer a.wg.Done()

	healthDone := make(chan struct{})
	go a.healthLoop(ctx, healthDone)

	a.pollLoop(ctx)
	<-healthDone
	a.shutdown()
}

func (a *App) pollLoop(ctx context.Context) {
	for ctx.Err() == nil {
		a.runCycle(ctx)
		if !wait(ctx, a.config.ReadIntervalDuration()) {
			return
		}
	}
}

func (a *App) runCycle(ctx context.Context) {
	if !a.sink.IsConnected() {
		logrus.Warn("mqtt not connected, skipping cycle")
		return
	}

	cycle := a.counters.AddCycle()
	logrus.WithFields(logrus.Fields{"cycle": cycle}).Debug("starting cycle")

	a.readList(ctx, a.immediate)
	if cycle%uint64(a.config.PeriodicEvery) == 0 {
		a.readList(ctx, a.periodic)
	}
}

// readList reads variables in configured order. A failed read never
// aborts the list, it is counted and the next variable is tried.
func (a *App) readList(ctx context.Context, defs []registers.Definition) {
	for _, def := range defs {
		if ctx.Err() != nil {
			return
		}
		a.readOne(ctx, def)
		if !wait(ctx, a.config.PerReadDelayDuration()) {
			return
		}
	}
}

func (a *App) readOne(ctx context.Context, def registers.Definition) {
	if a.ConnState() != state.Connected {
		a.setConnState(state.Connecting)
		err := a.source.Connect()
		if err != nil {
			a.setConnState(state.Disconnected)
			a.readFailed(ctx, def.Name, err)
			return
		}
		a.setConnState(state.Connected)
	}

	val, err := a.source.Read(def)
	if err != nil {
		a.readFailed(ctx, def.Name, err)
		return
	}
	a.consecFails = 0
	a.counters.AddOk()
	a.publishReading(state.Reading{Name: def.Name, Value: val, At: time.Now()})
}

// readFailed counts a failure and detects conflict episodes. After
// FailureThreshold consecutive failures another client probably holds
// the inverter's modbus connection; close ours, cool down and start
// over.
func (a *App) readFailed(ctx context.Context, name string, err error) {
	a.counters.AddFail()
	a.consecFails++
	logrus.WithFields(logrus.Fields{
		"variable":    name,
		"consecutive": a.consecFails,
	}).Warnf("read failed: %v", err)

	if a.consecFails < a.config.FailureThreshold {
		return
	}

	a.counters.AddConflict()
	a.setConnState(state.CoolingDown)
	logrus.WithFields(logrus.Fields{
		"conflicts": a.counters.Conflicts(),
		"cooldown":  a.config.CooldownDuration(),
	}).Warn("suspected modbus conflict, closing connection and cooling down")

	cerr := a.source.Disconnect()
	if cerr != nil {
		logrus.Errorf("error closing modbus connection: %v", cerr)
	}
	wait(ctx, a.config.CooldownDuration())
	a.setConnState(state.Disconnected)
	a.consecFails = 0
}

func (a *App) publishReading(r state.Reading) {
	if a.config.PublishChangedOnly {
		last, ok := a.lastPublished[r.Name]
		if ok && !r.Value.ChangedFrom(last, a.config.ChangeEps) {
			logrus.WithFields(logrus.Fields{"variable": r.Name, "value": r.Value.String()}).Debug("unchanged, suppressing publish")
			return
		}
	}

	topic := a.config.TopicPrefix + "/" + r.Name
	err := a.sink.Publish(topic, r.Value.String(), false)
	if err != nil {
		logrus.WithFields(logrus.Fields{"topic": topic}).Warnf("publish failed: %v", err)
		return
	}
	a.lastPublished[r.Name] = r.Value
}

func (a *App) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.config.HealthIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.publishHealth()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) publishHealth() {
	b, err := json.Marshal(a.counters.Snapshot())
	if err != nil {
		logrus.Errorf("error marshaling health: %v", err)
		return
	}
	err = a.sink.Publish(a.config.TopicPrefix+"/health", string(b), false)
	if err != nil {
		logrus.Warnf("health publish failed: %v", err)
	}
}

func (a *App) shutdown() {
	logrus.Info("shutting down")

	if a.sink.IsConnected() {
		err := a.sink.PublishSync(a.config.TopicPrefix+"/status", "offline", true, shutdownGrace)
		if err != nil {
			logrus.Warnf("offline publish failed: %v", err)
		}
	}
	a.sink.Disconnect(shutdownGrace)

	if a.ConnState() == state.Connected {
		err := a.source.Disconnect()
		if err != nil {
			logrus.Errorf("error closing modbus connection: %v", err)
		}
	}
	a.setConnState(state.Disconnected)

	if a.lease != nil {
		err := a.lease.Release()
		if err != nil {
			logrus.Error(err)
		}
	}
}

// wait sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
