package sixlock

import "github.com/prometheus/client_golang/prometheus"

// Collector adapts a Lock's Counts to a prometheus.Collector, so a
// process holding many locks can register one gauge per mode without
// hand-rolling the describe/collect boilerplate itself.
type Collector struct {
	lock *Lock
	desc *prometheus.Desc
}

// NewCollector builds a Collector for l. name becomes the metric name;
// labels are attached to every sample this collector emits (e.g. a lock
// identifier distinguishing one B-tree node's lock from another's).
func NewCollector(l *Lock, name string, labels prometheus.Labels) *Collector {
	return &Collector{
		lock: l,
		desc: prometheus.NewDesc(name, "Outstanding holders of a sixlock, by mode.", []string{"mode"}, labels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counts := c.lock.Counts()
	for m := ModeRead; int(m) < numModes; m++ {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[m]), m.String())
	}
}
