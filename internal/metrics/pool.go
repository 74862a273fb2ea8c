package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStat is the subset of *pgxpool.Stat exported as metrics.
type PoolStat interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
	AcquireCount() int64
	EmptyAcquireCount() int64
	CanceledAcquireCount() int64
	AcquireDuration() time.Duration
}

type poolMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(PoolStat) float64
}

type poolCollector struct {
	stat    func() PoolStat
	metrics []poolMetric
}

// RegisterPoolMetrics reports live pgxpool statistics on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	reg.MustRegister(newPoolCollector(func() PoolStat { return pool.Stat() }))
}

func newPoolCollector(stat func() PoolStat) *poolCollector {
	gauge := func(name, help string, value func(PoolStat) float64) poolMetric {
		return poolMetric{
			desc:      prometheus.NewDesc("cerebro_db_pool_"+name, help, nil, nil),
			valueType: prometheus.GaugeValue,
			value:     value,
		}
	}
	counter := func(name, help string, value func(PoolStat) float64) poolMetric {
		m := gauge(name, help, value)
		m.valueType = prometheus.CounterValue
		return m
	}

	return &poolCollector{
		stat: stat,
		metrics: []poolMetric{
			gauge("acquired", "Connections currently checked out of the pool.",
				func(s PoolStat) float64 { return float64(s.AcquiredConns()) }),
			gauge("idle", "Idle connections held by the pool.",
				func(s PoolStat) float64 { return float64(s.IdleConns()) }),
			gauge("total", "Connections currently open, acquired or idle.",
				func(s PoolStat) float64 { return float64(s.TotalConns()) }),
			gauge("max", "Configured maximum pool size.",
				func(s PoolStat) float64 { return float64(s.MaxConns()) }),
			counter("acquires_total", "Successful connection acquires.",
				func(s PoolStat) float64 { return float64(s.AcquireCount()) }),
			counter("empty_acquires_total", "Acquires that waited because the pool was empty.",
				func(s PoolStat) float64 { return float64(s.EmptyAcquireCount()) }),
			counter("canceled_acquires_total", "Acquires abandoned because the context ended.",
				func(s PoolStat) float64 { return float64(s.CanceledAcquireCount()) }),
			counter("acquire_seconds_total", "Cumulative time spent acquiring connections.",
				func(s PoolStat) float64 { return s.AcquireDuration().Seconds() }),
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.stat()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(stat))
	}
}
