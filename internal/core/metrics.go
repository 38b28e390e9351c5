package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pipelinecore/pkg/domain"
)

// instrumentedDatastore decorates a datastore with Prometheus counters and
// duration histograms labeled by operation, table and outcome.
type instrumentedDatastore struct {
	next domain.Datastore
	ops  *prometheus.CounterVec
	dur  *prometheus.HistogramVec
}

// InstrumentDatastore wraps next with Prometheus instrumentation registered
// against reg.
func InstrumentDatastore(next domain.Datastore, reg prometheus.Registerer) (domain.Datastore, error) {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipelinecore_datastore_ops_total",
		Help: "Datastore operations by operation, table and outcome.",
	}, []string{"op", "table", "status"})
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipelinecore_datastore_op_seconds",
		Help:    "Datastore operation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "table"})
	for _, c := range []prometheus.Collector{ops, dur} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &instrumentedDatastore{next: next, ops: ops, dur: dur}, nil
}

func (d *instrumentedDatastore) observe(op string, table domain.Table, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	d.ops.WithLabelValues(op, string(table), status).Inc()
	d.dur.WithLabelValues(op, string(table)).Observe(time.Since(start).Seconds())
}

func (d *instrumentedDatastore) Get(ctx context.Context, req domain.GetRequest) (domain.Row, error) {
	start := time.Now()
	row, err := d.next.Get(ctx, req)
	d.observe("get", req.Table, start, err)
	return row, err
}

func (d *instrumentedDatastore) Save(ctx context.Context, req domain.SaveRequest) (domain.Row, error) {
	start := time.Now()
	row, err := d.next.Save(ctx, req)
	d.observe("save", req.Table, start, err)
	return row, err
}

func (d *instrumentedDatastore) Update(ctx context.Context, req domain.UpdateRequest) (domain.Row, error) {
	start := time.Now()
	row, err := d.next.Update(ctx, req)
	d.observe("update", req.Table, start, err)
	return row, err
}

func (d *instrumentedDatastore) Remove(ctx context.Context, req domain.RemoveRequest) error {
	start := time.Now()
	err := d.next.Remove(ctx, req)
	d.observe("remove", req.Table, start, err)
	return err
}

func (d *instrumentedDatastore) Scan(ctx context.Context, req domain.ScanRequest) (domain.ScanResult, error) {
	start := time.Now()
	res, err := d.next.Scan(ctx, req)
	d.observe("scan", req.Table, start, err)
	return res, err
}

func (d *instrumentedDatastore) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	start := time.Now()
	rows, err := d.next.Query(ctx, req)
	d.observe("query", req.Table, start, err)
	return rows, err
}
