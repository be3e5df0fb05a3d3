package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/webble/internal/channel"
	"github.com/srg/webble/internal/device"
	"github.com/srg/webble/internal/groutine"
)

type discoveryResult struct {
	summary device.DeviceSummary
	err     error
}

type waiter struct {
	filters *device.FilterSet
	result  chan discoveryResult
}

func (w *waiter) resolve(res discoveryResult) {
	select {
	case w.result <- res:
	default:
	}
}

// DiscoveryCoordinator turns scan-result pushes into resolved device
// requests. One scan serves every concurrent request; it is stopped once the
// last waiting request is resolved or abandoned.
type DiscoveryCoordinator struct {
	sender  Sender
	timeout time.Duration
	logger  *logrus.Logger
	metrics *Metrics

	mu       sync.Mutex
	scanning bool
	waiters  []*waiter
	// control is closed once the last issued scan or stopScan has
	// completed. Each new one waits on it, so the host sees them in order.
	control chan struct{}
}

// NewDiscoveryCoordinator creates a coordinator that scans through sender.
// A positive timeout bounds each request.
func NewDiscoveryCoordinator(sender Sender, timeout time.Duration, logger *logrus.Logger, metrics *Metrics) *DiscoveryCoordinator {
	if logger == nil {
		logger = logrus.New()
	}
	control := make(chan struct{})
	close(control)
	return &DiscoveryCoordinator{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		control: control,
	}
}

// RequestDevice waits for the first scanned device accepted by opts. The
// waiter is registered before the scan is started, so results that arrive
// while the scan command is in flight are not missed.
func (d *DiscoveryCoordinator) RequestDevice(ctx context.Context, opts device.RequestDeviceOptions) (device.DeviceSummary, error) {
	filters, err := device.NewFilterSet(opts)
	if err != nil {
		return device.DeviceSummary{}, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	w := &waiter{filters: filters, result: make(chan discoveryResult, 1)}

	d.mu.Lock()
	d.waiters = append(d.waiters, w)
	startScan := !d.scanning
	d.scanning = true
	var after <-chan struct{}
	var done func()
	if startScan {
		after, done = d.enqueueControlLocked()
	}
	d.metrics.setDiscoveryWaiters(len(d.waiters))
	d.mu.Unlock()

	if startScan {
		d.metrics.recordScan()
		d.logger.Info("Starting scan")
		// A cancelled caller only withdraws itself; other waiters keep the scan.
		if err := d.sendControl(ctx, "scan", after, done); err != nil && ctx.Err() == nil {
			d.failAll(fmt.Errorf("failed to start scan: %w", err))
		}
	} else {
		d.logger.Debug("Joining active scan")
	}

	select {
	case res := <-w.result:
		return res.summary, res.err
	case <-ctx.Done():
		if !d.remove(w) {
			res := <-w.result
			return res.summary, res.err
		}
		return device.DeviceSummary{}, fmt.Errorf("device request: %w", ctx.Err())
	case <-d.sender.Done():
		if !d.remove(w) {
			res := <-w.result
			return res.summary, res.err
		}
		return device.DeviceSummary{}, device.ErrChannelClosed
	}
}

// Scanning reports whether a scan is active.
func (d *DiscoveryCoordinator) Scanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanning
}

// Waiting returns the number of unresolved device requests.
func (d *DiscoveryCoordinator) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}

// Accept implements Sink for scan-result pushes. Waiters are evaluated in
// registration order; each one whose filters accept the device is resolved.
func (d *DiscoveryCoordinator) Accept(msg channel.Message) {
	var result device.ScanResult
	if err := json.Unmarshal(msg.Raw, &result); err != nil {
		d.logger.WithError(err).Warn("Dropping malformed scan result")
		return
	}

	d.mu.Lock()
	if len(d.waiters) == 0 {
		d.mu.Unlock()
		d.logger.WithField("name", result.LocalName).Debug("Scan result with no waiting requests")
		return
	}

	var matched bool
	remaining := d.waiters[:0]
	for _, w := range d.waiters {
		if w.filters.Match(result) {
			w.resolve(discoveryResult{summary: result.Summary()})
			matched = true
			continue
		}
		remaining = append(remaining, w)
	}
	clear(d.waiters[len(remaining):])
	d.waiters = remaining
	stop := d.stopIfIdleLocked()
	d.metrics.setDiscoveryWaiters(len(d.waiters))
	d.mu.Unlock()

	if matched {
		d.logger.WithFields(logrus.Fields{
			"name": result.LocalName,
			"rssi": result.RSSI,
		}).Info("Device matched")
	}
	if stop != nil {
		stop()
	}
}

// remove drops w from the waiting list. It returns false if w was already
// resolved.
func (d *DiscoveryCoordinator) remove(w *waiter) bool {
	d.mu.Lock()
	found := false
	for i, other := range d.waiters {
		if other == w {
			d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
			found = true
			break
		}
	}
	var stop func()
	if found {
		stop = d.stopIfIdleLocked()
	}
	d.metrics.setDiscoveryWaiters(len(d.waiters))
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	return found
}

func (d *DiscoveryCoordinator) failAll(err error) {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = nil
	d.scanning = false
	d.metrics.setDiscoveryWaiters(0)
	d.mu.Unlock()

	d.logger.WithError(err).WithField("waiters", len(waiters)).Warn("Scan failed")
	for _, w := range waiters {
		w.resolve(discoveryResult{err: err})
	}
}

// stopIfIdleLocked marks the scan stopped when nobody is waiting and returns
// the function that tells the host, or nil.
func (d *DiscoveryCoordinator) stopIfIdleLocked() func() {
	if len(d.waiters) > 0 || !d.scanning {
		return nil
	}
	d.scanning = false
	after, done := d.enqueueControlLocked()
	return func() { d.stopScan(after, done) }
}

// enqueueControlLocked reserves the next slot in the scan-control order. The
// caller must wait on after before sending and call done when finished.
func (d *DiscoveryCoordinator) enqueueControlLocked() (after <-chan struct{}, done func()) {
	prev := d.control
	next := make(chan struct{})
	d.control = next
	return prev, func() { close(next) }
}

func (d *DiscoveryCoordinator) sendControl(ctx context.Context, cmd string, after <-chan struct{}, done func()) error {
	select {
	case <-after:
	case <-d.sender.Done():
		done()
		return device.ErrChannelClosed
	case <-ctx.Done():
		// Hold the slot until the previous command completes.
		groutine.Go(context.Background(), "scan-control-release", func(context.Context) {
			select {
			case <-after:
			case <-d.sender.Done():
			}
			done()
		})
		return ctx.Err()
	}
	defer done()

	_, err := d.sender.Send(ctx, cmd)
	return err
}

// stopScan is fire-and-forget: it runs off the dispatcher goroutine so the
// stopScan reply can be dispatched.
func (d *DiscoveryCoordinator) stopScan(after <-chan struct{}, done func()) {
	d.logger.Info("Stopping scan")
	groutine.GoSafe(context.Background(), "stop-scan", d.logger, func(ctx context.Context) {
		if err := d.sendControl(ctx, "stopScan", after, done); err != nil {
			d.logger.WithError(err).Warn("Failed to stop scan")
		}
	})
}
