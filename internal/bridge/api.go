package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/device"
)

// API implements the caller-facing Web Bluetooth operations on top of the
// bridge. gattID values are opaque connection handles returned by GattConnect
// and are passed back to the native host unchanged.
type API struct {
	sender    Sender
	discovery *DiscoveryCoordinator
	cache     *CharacteristicCache
	router    *NotificationRouter
	logger    *logrus.Logger
}

// NewAPI wires the API components around sender.
func NewAPI(sender Sender, discovery *DiscoveryCoordinator, cache *CharacteristicCache, router *NotificationRouter, logger *logrus.Logger) *API {
	if logger == nil {
		logger = logrus.New()
	}
	return &API{
		sender:    sender,
		discovery: discovery,
		cache:     cache,
		router:    router,
		logger:    logger,
	}
}

// Ping checks that the native host answers.
func (a *API) Ping(ctx context.Context) error {
	if _, err := a.sender.Send(ctx, "ping"); err != nil {
		return fmt.Errorf("native host ping failed: %w", err)
	}
	a.logger.Info("Connected to native host")
	return nil
}

// RequestDevice scans until a device accepted by opts is seen.
func (a *API) RequestDevice(ctx context.Context, opts device.RequestDeviceOptions) (device.DeviceSummary, error) {
	return a.discovery.RequestDevice(ctx, opts)
}

// GattConnect connects to the device at address and returns the native
// connection handle.
func (a *API) GattConnect(ctx context.Context, address string) (json.RawMessage, error) {
	return a.sender.Send(ctx, "connect", Arg("address", device.GattAddress(address)))
}

// GattDisconnect closes the connection. Cached characteristics of the
// connection are kept.
func (a *API) GattDisconnect(ctx context.Context, gattID json.RawMessage) (json.RawMessage, error) {
	return a.sender.Send(ctx, "disconnect", Arg("device", gattID))
}

// GetPrimaryServices lists the services of the connection, optionally only
// those matching service.
func (a *API) GetPrimaryServices(ctx context.Context, gattID json.RawMessage, service device.Identifier) (json.RawMessage, error) {
	params := []Param{Arg("device", gattID)}
	if !service.IsZero() {
		wire, err := service.Wire()
		if err != nil {
			return nil, err
		}
		params = append(params, Arg("service", wire))
	}
	return a.sender.Send(ctx, "services", params...)
}

// GetPrimaryService returns the first service matching service.
func (a *API) GetPrimaryService(ctx context.Context, gattID json.RawMessage, service device.Identifier) (json.RawMessage, error) {
	raw, err := a.GetPrimaryServices(ctx, gattID, service)
	if err != nil {
		return nil, err
	}

	var services []json.RawMessage
	if err := json.Unmarshal(raw, &services); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}
	if len(services) == 0 {
		nf := &device.NotFoundError{Resource: "service"}
		if !service.IsZero() {
			nf.UUIDs = []string{service.String()}
		}
		return nil, nf
	}
	return services[0], nil
}

// GetCharacteristics lists the characteristics of service, optionally only
// those matching characteristic.
func (a *API) GetCharacteristics(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier) ([]device.Characteristic, error) {
	return a.cache.Get(ctx, gattID, service, characteristic)
}

// GetCharacteristic returns the first characteristic of service matching
// characteristic.
func (a *API) GetCharacteristic(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier) (device.Characteristic, error) {
	return a.cache.First(ctx, gattID, service, characteristic)
}

// ReadValue reads the characteristic value.
func (a *API) ReadValue(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier) (json.RawMessage, error) {
	params, err := characteristicParams(gattID, service, characteristic)
	if err != nil {
		return nil, err
	}
	return a.sender.Send(ctx, "read", params...)
}

// WriteValue writes value, a list of byte values, to the characteristic.
func (a *API) WriteValue(ctx context.Context, gattID json.RawMessage, service, characteristic device.Identifier, value []int) (json.RawMessage, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: value must be an array of numbers", device.ErrInvalidArgument)
	}
	for i, b := range value {
		if b < 0 || b > 255 {
			return nil, fmt.Errorf("%w: value[%d] = %d is not a byte", device.ErrInvalidArgument, i, b)
		}
	}

	params, err := characteristicParams(gattID, service, characteristic)
	if err != nil {
		return nil, err
	}
	return a.sender.Send(ctx, "write", append(params, Arg("value", value))...)
}

// StartNotifications subscribes to value changes of the characteristic and
// routes them to caller. It returns the native subscription id.
func (a *API) StartNotifications(ctx context.Context, caller Caller, gattID json.RawMessage, service, characteristic device.Identifier) (json.RawMessage, error) {
	params, err := characteristicParams(gattID, service, characteristic)
	if err != nil {
		return nil, err
	}

	subscriptionID, err := a.sender.Send(ctx, "subscribe", params...)
	if err != nil {
		return nil, err
	}

	a.router.Subscribe(channel.Token(subscriptionID), caller)
	return subscriptionID, nil
}

func characteristicParams(gattID json.RawMessage, service, characteristic device.Identifier) ([]Param, error) {
	svc, err := service.Wire()
	if err != nil {
		return nil, err
	}
	char, err := characteristic.Wire()
	if err != nil {
		return nil, err
	}
	return []Param{
		Arg("device", gattID),
		Arg("service", svc),
		Arg("characteristic", char),
	}, nil
}
