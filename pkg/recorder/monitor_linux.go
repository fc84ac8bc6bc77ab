package recorder

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/slimtoolkit/emd/pkg/config"
	"github.com/slimtoolkit/emd/pkg/errors"
	"github.com/slimtoolkit/emd/pkg/report"
)

// Monitor is an asynchronous recording.
type Monitor interface {
	// Starts the target and returns once it runs under the recorder.
	Start() error

	// Cancel terminates the traced processes.
	Cancel()

	// Done is closed when the recording is over.
	Done() <-chan struct{}

	// Status returns the session manifest. Only valid after Done.
	Status() (*report.SessionReport, error)
}

type status struct {
	report *report.SessionReport
	err    error
}

type monitor struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg  *config.DumpConfig
	opts Options

	rec *Recorder

	status status
	doneCh chan struct{}

	logger *log.Entry
}

func NewMonitor(ctx context.Context, cfg *config.DumpConfig, opts Options) Monitor {
	ctx, cancel := context.WithCancel(ctx)
	return &monitor{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		opts:   opts,
		doneCh: make(chan struct{}),
		logger: logger().WithField("com", "monitor"),
	}
}

func (m *monitor) Start() error {
	logger := m.logger.WithField("op", "recorder.monitor.Start")
	logger.Debug("call")
	defer logger.Debug("exit")

	rec, err := New(m.ctx, m.cfg, m.opts)
	if err != nil {
		return errors.SE("recorder.monitor.Start/New", "call.error", err)
	}
	m.rec = rec

	go rec.trace()

	appState := <-rec.StateCh
	logger.WithField("state", appState).Debug("target app state")
	if appState == AppFailed {
		m.status.report = rec.session.Report
		m.status.err = rec.err
		close(m.doneCh)
		return fmt.Errorf("recorder: target app startup failed: %w", rec.err)
	}

	go func() {
		logger := m.logger.WithField("op", "recorder.monitor.completion")
		logger.Debug("call")
		defer logger.Debug("exit")

		appState := <-rec.StateCh
		if appState != AppDone {
			logger.Errorf("unexpected target app state %q", appState)
		}

		m.status.report = rec.session.Report
		m.status.err = rec.err
		close(m.doneCh)
	}()

	return nil
}

func (m *monitor) Cancel() {
	m.cancel()
}

func (m *monitor) Done() <-chan struct{} {
	return m.doneCh
}

func (m *monitor) Status() (*report.SessionReport, error) {
	return m.status.report, m.status.err
}

// Record runs a recording to completion.
func Record(ctx context.Context, cfg *config.DumpConfig, opts Options) (*report.SessionReport, error) {
	mon := NewMonitor(ctx, cfg, opts)
	if err := mon.Start(); err != nil {
		rep, _ := mon.Status()
		return rep, err
	}

	<-mon.Done()
	return mon.Status()
}
