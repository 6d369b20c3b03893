package transfer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/adamwoolhether/xfer/engine"
)

// Multi drives several transfers concurrently over one engine multiplexer.
// A Transfer can be registered with at most one Multi at a time.
// A Multi is not safe for concurrent use.
type Multi struct {
	mux    engine.Multiplexer
	logger *slog.Logger

	transfers []*Transfer
	addErrs   []error
}

// NewMulti creates an empty Multi. Only [WithEngine] and [WithLogger]
// apply.
func NewMulti(optFns ...Option) (*Multi, error) {
	opts, err := buildOptions(optFns)
	if err != nil {
		return nil, err
	}

	return &Multi{
		mux:    opts.engine.NewMultiplexer(),
		logger: opts.logger,
	}, nil
}

// Add registers t and attaches its handle to the multiplexer. Failures are
// recorded and returned by the next [Multi.Run].
func (m *Multi) Add(t *Transfer) *Multi {
	switch {
	case t == nil:
		m.addErrs = append(m.addErrs, errors.New("transfer must not be nil"))
		return m
	case t.multi != nil:
		m.addErrs = append(m.addErrs, fmt.Errorf("adding transfer %s: %w", t.id, ErrAlreadyRegistered))
		return m
	}

	if err := m.mux.Attach(t.handle); err != nil {
		m.addErrs = append(m.addErrs, fmt.Errorf("attaching transfer %s: %w", t.id, err))
		return m
	}

	t.multi = m
	m.transfers = append(m.transfers, t)

	return m
}

// Remove unregisters t, reporting whether it was registered.
func (m *Multi) Remove(t *Transfer) bool {
	i := slices.Index(m.transfers, t)
	if i < 0 {
		return false
	}

	if err := m.mux.Detach(t.handle); err != nil && !errors.Is(err, engine.ErrNotAttached) {
		m.logger.Error("failed to detach transfer", "transfer_id", t.id, "error", err)
	}
	t.multi = nil
	m.transfers = slices.Delete(m.transfers, i, i+1)

	return true
}

// Transfers returns the registered transfers in registration order.
func (m *Multi) Transfers() []*Transfer {
	return slices.Clone(m.transfers)
}

// All iterates the registered transfers in registration order.
func (m *Multi) All() iter.Seq2[int, *Transfer] {
	return slices.All(m.transfers)
}

// Run commits every registered transfer's options and drives them all to
// completion. Afterwards each transfer holds its response and metadata;
// the success policy is not applied. A failure of one transfer does not
// stop the others and is not returned: see [Transfer.Err] and [Multi.Err].
//
// Run returns an error for registration failures, invalid options, and
// multiplexer faults. Cancelling ctx aborts in-flight transfers.
func (m *Multi) Run(ctx context.Context) error {
	if len(m.addErrs) > 0 {
		err := errors.Join(m.addErrs...)
		m.addErrs = nil
		return fmt.Errorf("registering transfers: %w", err)
	}

	start := time.Now()

	for _, t := range m.transfers {
		if err := t.PrepareOptions("", nil); err != nil {
			return fmt.Errorf("preparing transfer %s: %w", t.id, err)
		}
		if err := m.rearm(t); err != nil {
			return fmt.Errorf("arming transfer %s: %w", t.id, err)
		}
		t.err = nil
	}

	running, code := m.perform(ctx)
	for running > 0 && code == engine.MultiOK {
		if m.mux.Wait(ctx, selectTimeout) == -1 {
			time.Sleep(selectFallback)
		}
		running, code = m.perform(ctx)
	}

	for {
		msg, ok := m.mux.InfoRead()
		if !ok {
			break
		}
		if t := m.lookup(msg.Handle); t != nil && msg.Err != nil {
			t.err = newTransferError(msg.Err)
		}
	}

	var failed int
	for _, t := range m.transfers {
		t.setResult(m.mux.Content(t.handle), t.handle.Info())
		if t.err != nil {
			failed++
		}
	}

	if code != engine.MultiOK {
		m.logger.Error("multi run aborted", "code", int(code), "error", code.String())
		return &TransferError{Code: int(code), Message: code.String()}
	}

	m.logger.Debug("multi run complete",
		"transfers", len(m.transfers),
		"failed", failed,
		"elapsed", time.Since(start),
	)

	return nil
}

// perform advances the multiplexer until it stops asking to be called
// again immediately.
func (m *Multi) perform(ctx context.Context) (int, engine.MultiCode) {
	for {
		running, code := m.mux.Perform(ctx)
		if code != engine.MultiCallMultiPerform {
			return running, code
		}
	}
}

// rearm re-attaches t so a completed handle is driven again.
func (m *Multi) rearm(t *Transfer) error {
	if err := m.mux.Detach(t.handle); err != nil && !errors.Is(err, engine.ErrNotAttached) {
		return err
	}
	return m.mux.Attach(t.handle)
}

func (m *Multi) lookup(h engine.Handle) *Transfer {
	for _, t := range m.transfers {
		if t.handle == h {
			return t
		}
	}
	return nil
}

// Err joins the transfer errors of the last [Multi.Run].
func (m *Multi) Err() error {
	var errs []error
	for _, t := range m.transfers {
		if t.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.opts.URL, t.err))
		}
	}
	return errors.Join(errs...)
}

// Close unregisters every transfer and releases the multiplexer. The
// transfers themselves stay usable.
func (m *Multi) Close() error {
	for _, t := range m.transfers {
		t.multi = nil
	}
	m.transfers = nil

	if err := m.mux.Close(); err != nil {
		return fmt.Errorf("closing multiplexer: %w", err)
	}

	return nil
}
