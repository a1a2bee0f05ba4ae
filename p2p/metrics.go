package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by every instrumented worker.
type Metrics struct {
	ops       *prometheus.CounterVec
	errors    *prometheus.CounterVec
	delivered *prometheus.CounterVec
	busyTicks *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "netrelay_worker_ops_total", Help: "worker calls by relay and operation"},
			[]string{"relay", "op"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "netrelay_worker_errors_total", Help: "failed worker calls by relay and operation"},
			[]string{"relay", "op"},
		),
		delivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "netrelay_handler_deliveries_total", Help: "handler invocations by relay and outcome"},
			[]string{"relay", "outcome"},
		),
		busyTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "netrelay_busy_ticks_total", Help: "ticks that performed work"},
			[]string{"relay"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.ops, m.errors, m.delivered, m.busyTicks} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

type instrumented struct {
	name   string
	m      *Metrics
	worker Receiver
}

// Instrument decorates the workers built by f with counters labelled name.
func Instrument(name string, f ReceiverFactory, m *Metrics) ReceiverFactory {
	return func(h Handler) (Receiver, error) {
		counted := func(msg Protocol, err error) error {
			if err != nil {
				m.delivered.WithLabelValues(name, "error").Inc()
			} else {
				m.delivered.WithLabelValues(name, "message").Inc()
			}
			return h(msg, err)
		}
		w, err := f(counted)
		if err != nil {
			m.errors.WithLabelValues(name, "construct").Inc()
			return nil, err
		}
		return &instrumented{name: name, m: m, worker: w}, nil
	}
}

func (i *instrumented) observe(op string, err error) {
	i.m.ops.WithLabelValues(i.name, op).Inc()
	if err != nil {
		i.m.errors.WithLabelValues(i.name, op).Inc()
	}
}

func (i *instrumented) Tick() (bool, error) {
	did, err := i.worker.Tick()
	i.observe("tick", err)
	if did {
		i.m.busyTicks.WithLabelValues(i.name).Inc()
	}
	return did, err
}

func (i *instrumented) Receive(msg Protocol) error {
	err := i.worker.Receive(msg)
	i.observe("receive", err)
	return err
}

func (i *instrumented) Stop() error {
	err := i.worker.Stop()
	i.observe("stop", err)
	return err
}
