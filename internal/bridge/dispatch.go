package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/device"
)

// Envelope is a caller command: {"id": ..., "command": "...", "args": [...]}.
// The id is optional and echoed back in the response.
type Envelope struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

// Response is the reply to an Envelope. Exactly one of result and error is
// encoded.
type Response struct {
	ID     json.RawMessage
	Result any
	Err    error
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(struct {
			ID    json.RawMessage `json:"id,omitempty"`
			Error string          `json:"error"`
		}{ID: r.ID, Error: r.Err.Error()})
	}
	return json.Marshal(struct {
		ID     json.RawMessage `json:"id,omitempty"`
		Result any             `json:"result"`
	}{ID: r.ID, Result: r.Result})
}

// Args are the positional arguments of an envelope.
type Args struct {
	items []json.RawMessage
}

// Len returns the number of supplied arguments.
func (a *Args) Len() int {
	return len(a.items)
}

// Decode unmarshals argument i into v. Missing and null arguments leave v
// untouched.
func (a *Args) Decode(i int, v any) error {
	if i >= len(a.items) || isNull(a.items[i]) {
		return nil
	}
	if err := json.Unmarshal(a.items[i], v); err != nil {
		if errors.Is(err, device.ErrInvalidArgument) {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		return fmt.Errorf("%w: argument %d: %v", device.ErrInvalidArgument, i, err)
	}
	return nil
}

// Raw returns argument i unmodified, or nil when it is missing.
func (a *Args) Raw(i int) json.RawMessage {
	if i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

// Handler runs one command.
type Handler func(ctx context.Context, caller Caller, args *Args) (any, error)

// Dispatcher validates caller envelopes and runs the named command.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *logrus.Logger
}

// NewDispatcher creates a dispatcher exposing the operations of api.
func NewDispatcher(api *API, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
	if api != nil {
		d.registerAPI(api)
	}
	return d
}

// Register adds or replaces a command handler.
func (d *Dispatcher) Register(command string, h Handler) {
	d.handlers[command] = h
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleRaw decodes an envelope from data and handles it.
func (d *Dispatcher) HandleRaw(ctx context.Context, caller Caller, data []byte) Response {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Response{Err: fmt.Errorf("%w: malformed envelope: %v", device.ErrInvalidArgument, err)}
	}
	return d.Handle(ctx, caller, env)
}

// Handle validates env and runs its command. Validation failures never
// invoke a handler.
func (d *Dispatcher) Handle(ctx context.Context, caller Caller, env Envelope) Response {
	if env.Command == "" {
		return Response{ID: env.ID, Err: device.ErrMissingCommand}
	}

	trimmed := bytes.TrimSpace(env.Args)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Response{ID: env.ID, Err: device.ErrInvalidArgsShape}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return Response{ID: env.ID, Err: device.ErrInvalidArgsShape}
	}

	h, ok := d.handlers[env.Command]
	if !ok {
		return Response{ID: env.ID, Err: fmt.Errorf("%w: %s", device.ErrUnknownCommand, env.Command)}
	}

	log := d.logger.WithField("command", env.Command)
	if caller != nil {
		log = log.WithField("caller", caller.ID())
	}
	log.Debug("Handling command")

	result, err := h(ctx, caller, &Args{items: items})
	if err != nil {
		log.WithError(err).Debug("Command failed")
		return Response{ID: env.ID, Err: err}
	}
	return Response{ID: env.ID, Result: result}
}

func (d *Dispatcher) registerAPI(api *API) {
	d.Register("requestDevice", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		var opts device.RequestDeviceOptions
		if err := args.Decode(0, &opts); err != nil {
			return nil, err
		}
		return api.RequestDevice(ctx, opts)
	})

	d.Register("gattConnect", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		var address string
		if err := args.Decode(0, &address); err != nil {
			return nil, err
		}
		if address == "" {
			return nil, fmt.Errorf("%w: address is required", device.ErrInvalidArgument)
		}
		return api.GattConnect(ctx, address)
	})

	d.Register("gattDisconnect", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		return api.GattDisconnect(ctx, args.Raw(0))
	})

	d.Register("getPrimaryService", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		var service device.Identifier
		if err := args.Decode(1, &service); err != nil {
			return nil, err
		}
		return api.GetPrimaryService(ctx, args.Raw(0), service)
	})

	d.Register("getPrimaryServices", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		var service device.Identifier
		if err := args.Decode(1, &service); err != nil {
			return nil, err
		}
		return api.GetPrimaryServices(ctx, args.Raw(0), service)
	})

	d.Register("getCharacteristic", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		service, characteristic, err := decodeServiceAndCharacteristic(args)
		if err != nil {
			return nil, err
		}
		return api.GetCharacteristic(ctx, args.Raw(0), service, characteristic)
	})

	d.Register("getCharacteristics", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		service, characteristic, err := decodeServiceAndCharacteristic(args)
		if err != nil {
			return nil, err
		}
		return api.GetCharacteristics(ctx, args.Raw(0), service, characteristic)
	})

	d.Register("readValue", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		service, characteristic, err := decodeServiceAndCharacteristic(args)
		if err != nil {
			return nil, err
		}
		return api.ReadValue(ctx, args.Raw(0), service, characteristic)
	})

	d.Register("writeValue", func(ctx context.Context, _ Caller, args *Args) (any, error) {
		service, characteristic, err := decodeServiceAndCharacteristic(args)
		if err != nil {
			return nil, err
		}
		var value []int
		if err := args.Decode(3, &value); err != nil {
			return nil, fmt.Errorf("%w: value must be an array of numbers", device.ErrInvalidArgument)
		}
		return api.WriteValue(ctx, args.Raw(0), service, characteristic, value)
	})

	d.Register("startNotifications", func(ctx context.Context, caller Caller, args *Args) (any, error) {
		if caller == nil {
			return nil, fmt.Errorf("%w: notifications need a connected caller", device.ErrInvalidArgument)
		}
		service, characteristic, err := decodeServiceAndCharacteristic(args)
		if err != nil {
			return nil, err
		}
		return api.StartNotifications(ctx, caller, args.Raw(0), service, characteristic)
	})
}

func decodeServiceAndCharacteristic(args *Args) (device.Identifier, device.Identifier, error) {
	var service, characteristic device.Identifier
	if err := args.Decode(1, &service); err != nil {
		return service, characteristic, err
	}
	if err := args.Decode(2, &characteristic); err != nil {
		return service, characteristic, err
	}
	return service, characteristic, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
