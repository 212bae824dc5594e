package sbprotocol

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fako1024/gatt"
	"go.uber.org/zap"
)

const (
	DefaultWriteService         = "1899"
	DefaultWriteCharacteristic  = "2b99"
	DefaultNotifyService        = "1898"
	DefaultNotifyCharacteristic = "2b98"
)

type GattConfig struct {
	// Address is the peripheral ID (MAC on Linux). Name is used when empty.
	Address              string
	Name                 string
	HCIDevice            int
	WriteService         string
	WriteCharacteristic  string
	NotifyService        string
	NotifyCharacteristic string
}

// GattLink is a Link over a BLE central built on fako1024/gatt. The HCI device
// is opened once and reused across sessions.
type GattLink struct {
	cfg    GattConfig
	logger *zap.Logger

	initOnce sync.Once
	initErr  error
	device   gatt.Device
	powered  chan struct{}

	mu      sync.Mutex
	session *gattSession
}

type gattSession struct {
	handler    LinkHandler
	ready      chan error
	readyOnce  sync.Once
	done       chan struct{}
	doneOnce   sync.Once
	closing    atomic.Bool
	connecting atomic.Bool

	periph    gatt.Peripheral
	writeChar *gatt.Characteristic
}

func NewGattLink(cfg GattConfig, logger *zap.Logger) *GattLink {
	if cfg.WriteService == "" {
		cfg.WriteService = DefaultWriteService
	}
	if cfg.WriteCharacteristic == "" {
		cfg.WriteCharacteristic = DefaultWriteCharacteristic
	}
	if cfg.NotifyService == "" {
		cfg.NotifyService = DefaultNotifyService
	}
	if cfg.NotifyCharacteristic == "" {
		cfg.NotifyCharacteristic = DefaultNotifyCharacteristic
	}
	return &GattLink{
		cfg:     cfg,
		logger:  logger,
		powered: make(chan struct{}),
	}
}

func (l *GattLink) Open(ctx context.Context, handler LinkHandler) error {
	if err := l.ensureDevice(ctx); err != nil {
		return err
	}

	s := &gattSession{
		handler: handler,
		ready:   make(chan error, 1),
		done:    make(chan struct{}),
	}
	l.mu.Lock()
	l.session = s
	l.mu.Unlock()

	if err := l.device.Scan([]gatt.UUID{}, false); err != nil {
		l.dropSession(s)
		return err
	}

	select {
	case err := <-s.ready:
		if err != nil {
			l.dropSession(s)
			return err
		}
		return nil
	case <-ctx.Done():
		l.dropSession(s)
		return ctx.Err()
	}
}

func (l *GattLink) Write(frame []byte) error {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s == nil || s.periph == nil || s.writeChar == nil {
		return ErrNotConnected
	}
	return s.periph.WriteCharacteristic(s.writeChar, frame, true)
}

func (l *GattLink) Close() error {
	l.mu.Lock()
	s := l.session
	l.mu.Unlock()
	if s != nil {
		l.dropSession(s)
	}
	return nil
}

func (l *GattLink) ensureDevice(ctx context.Context) error {
	l.initOnce.Do(func() {
		device, err := gatt.NewDevice(defaultClientOptions(l.cfg.HCIDevice)...)
		if err != nil {
			l.initErr = err
			return
		}
		device.Handle(
			gatt.AddPeripheralDiscovered(l.onPeriphDiscovered),
			gatt.AddPeripheralConnected(l.onPeriphConnected),
			gatt.AddPeripheralDisconnected(l.onPeriphDisconnected),
		)
		if err := device.Init(l.onStateChanged); err != nil {
			l.initErr = err
			return
		}
		l.device = device
	})
	if l.initErr != nil {
		return l.initErr
	}
	select {
	case <-l.powered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *GattLink) dropSession(s *gattSession) {
	s.closing.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
	l.mu.Lock()
	if l.session == s {
		l.session = nil
	}
	l.mu.Unlock()
	if l.device != nil {
		if err := l.device.StopScanning(); err != nil {
			l.logger.Debug("gatt: stop scanning", zap.Error(err))
		}
	}
}

func (l *GattLink) current() *gattSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *GattLink) onStateChanged(d gatt.Device, s gatt.State) {
	l.logger.Debug("gatt: adapter state", zap.Stringer("state", s))
	switch s {
	case gatt.StatePoweredOn:
		select {
		case <-l.powered:
		default:
			close(l.powered)
		}
	case gatt.StatePoweredOff:
		if session := l.current(); session != nil {
			session.signal(errors.New("bluetooth adapter powered off"))
		}
	}
}

func (l *GattLink) onPeriphDiscovered(p gatt.Peripheral, _ *gatt.Advertisement, _ int) {
	if !l.thisDevice(p) {
		return
	}
	s := l.current()
	if s == nil || !s.connecting.CompareAndSwap(false, true) {
		return
	}
	l.logger.Debug("gatt: connecting", zap.String("id", p.ID()), zap.String("name", p.Name()))
	if err := p.Device().StopScanning(); err != nil {
		l.logger.Debug("gatt: stop scanning", zap.Error(err))
	}
	if err := p.Device().Connect(p); err != nil {
		s.signal(err)
	}
}

func (l *GattLink) onPeriphConnected(p gatt.Peripheral, connErr error) {
	if !l.thisDevice(p) {
		return
	}
	s := l.current()
	if s == nil {
		p.Device().CancelConnection(p)
		return
	}
	if connErr != nil {
		s.signal(connErr)
		return
	}
	defer p.Device().CancelConnection(p)

	if err := l.setup(p, s); err != nil {
		s.signal(err)
		return
	}
	s.signal(nil)

	<-s.done
	l.logger.Debug("gatt: released peripheral", zap.String("id", p.ID()))
}

func (l *GattLink) onPeriphDisconnected(p gatt.Peripheral, err error) {
	if !l.thisDevice(p) {
		return
	}
	s := l.current()
	if s == nil || s.closing.Load() {
		return
	}
	if err == nil {
		err = errors.New("peripheral disconnected")
	}
	connected := s.periph != nil
	l.dropSession(s)
	if !connected {
		s.signal(err)
		return
	}
	if s.handler.OnDisconnect != nil {
		s.handler.OnDisconnect(err)
	}
}

func (l *GattLink) setup(p gatt.Peripheral, s *gattSession) error {
	services, err := p.DiscoverServices([]gatt.UUID{
		gatt.MustParseUUID(l.cfg.WriteService),
		gatt.MustParseUUID(l.cfg.NotifyService),
	})
	if err != nil {
		return err
	}

	var writeChar, notifyChar *gatt.Characteristic
	for _, svc := range services {
		if !sameUUID(svc.UUID(), l.cfg.WriteService) && !sameUUID(svc.UUID(), l.cfg.NotifyService) {
			continue
		}
		chars, err := p.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return err
		}
		for _, c := range chars {
			if sameUUID(svc.UUID(), l.cfg.WriteService) && sameUUID(c.UUID(), l.cfg.WriteCharacteristic) {
				writeChar = c
			}
			if sameUUID(svc.UUID(), l.cfg.NotifyService) && sameUUID(c.UUID(), l.cfg.NotifyCharacteristic) {
				notifyChar = c
			}
		}
	}
	if writeChar == nil || notifyChar == nil {
		return errors.New("smartboiler characteristics not found on peripheral")
	}

	if _, err := p.DiscoverDescriptors(nil, notifyChar); err != nil {
		return err
	}
	err = p.SetNotifyValue(notifyChar, func(_ *gatt.Characteristic, b []byte, err error) {
		if err != nil {
			l.logger.Warn("gatt: notification error", zap.Error(err))
			return
		}
		s.handler.OnNotify(b)
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	s.periph = p
	s.writeChar = writeChar
	l.mu.Unlock()
	return nil
}

func (l *GattLink) thisDevice(p gatt.Peripheral) bool {
	if l.cfg.Address != "" {
		return strings.EqualFold(p.ID(), l.cfg.Address)
	}
	return l.cfg.Name != "" && strings.EqualFold(p.Name(), l.cfg.Name)
}

func (s *gattSession) signal(err error) {
	s.readyOnce.Do(func() {
		s.ready <- err
	})
}

func sameUUID(u gatt.UUID, s string) bool {
	return strings.EqualFold(u.String(), s)
}
