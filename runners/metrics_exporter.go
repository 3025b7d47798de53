/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package runners

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/pkg/response"
)

const subsystem = "droidvold"

// MetricsExporter is a broadcaster tee: every event updates the counters
// and gauges, then flows on to the wrapped sink.
type MetricsExporter struct {
	inner types.Broadcaster

	events  *prometheus.CounterVec
	disks   prometheus.Gauge
	volumes prometheus.Gauge
}

// NewMetricsExporter registers the collectors and wraps inner.
func NewMetricsExporter(inner types.Broadcaster, reg prometheus.Registerer) *MetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Broadcast events by response code",
	}, []string{"code"})

	disks := prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "disks",
		Help:      "Managed disks currently present",
	})

	volumes := prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "volumes",
		Help:      "Volumes currently registered",
	})

	reg.MustRegister(events, disks, volumes)

	return &MetricsExporter{
		inner:   inner,
		events:  events,
		disks:   disks,
		volumes: volumes,
	}
}

// Broadcast implements types.Broadcaster.
func (m *MetricsExporter) Broadcast(code int, payload string) {
	m.events.WithLabelValues(strconv.Itoa(code)).Inc()

	switch code {
	case response.DiskCreated:
		m.disks.Inc()
	case response.DiskDestroyed:
		m.disks.Dec()
	case response.VolumeCreated:
		m.volumes.Inc()
	case response.VolumeDestroyed:
		m.volumes.Dec()
	}

	if m.inner != nil {
		m.inner.Broadcast(code, payload)
	}
}
