/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "txrepo"

// poolCollector exports SessionFactory pool statistics on every scrape.
type poolCollector struct {
	factory *SessionFactory

	maxOpen      *prometheus.Desc
	open         *prometheus.Desc
	inUse        *prometheus.Desc
	idle         *prometheus.Desc
	waitCount    *prometheus.Desc
	waitDuration *prometheus.Desc
}

// NewPoolCollector returns a prometheus.Collector over the factory's pool.
// Register it once per factory.
func NewPoolCollector(factory *SessionFactory) prometheus.Collector {
	labels := prometheus.Labels{"driver": factory.Config().Driver}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "pool", name), help, nil, labels)
	}
	return &poolCollector{
		factory:      factory,
		maxOpen:      desc("max_open_connections", "Maximum number of open connections to the database."),
		open:         desc("open_connections", "Number of established connections, in use and idle."),
		inUse:        desc("in_use_connections", "Number of connections currently held by sessions."),
		idle:         desc("idle_connections", "Number of idle connections."),
		waitCount:    desc("wait_count_total", "Total number of connections waited for."),
		waitDuration: desc("wait_duration_seconds_total", "Total time blocked waiting for a new connection."),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.maxOpen
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitCount
	ch <- c.waitDuration
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.factory.Stats()
	ch <- prometheus.MustNewConstMetric(c.maxOpen, prometheus.GaugeValue, float64(s.MaxOpenConns))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.OpenConns))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(s.WaitCount))
	ch <- prometheus.MustNewConstMetric(c.waitDuration, prometheus.CounterValue, s.WaitDuration.Seconds())
}
