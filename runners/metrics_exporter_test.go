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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"bocloud.com/cloudnative/droidvold/pkg/response"
)

type sink struct {
	codes []int
}

func (s *sink) Broadcast(code int, payload string) {
	s.codes = append(s.codes, code)
}

func TestMetricsExporterCountsAndForwards(t *testing.T) {
	inner := &sink{}
	m := NewMetricsExporter(inner, prometheus.NewRegistry())

	m.Broadcast(response.DiskCreated, "disk:8,16 8")
	m.Broadcast(response.VolumeCreated, "public:8,17 0 disk:8,16")
	m.Broadcast(response.VolumeStateChanged, "public:8,17 2")
	m.Broadcast(response.VolumeDestroyed, "public:8,17")
	m.Broadcast(response.DiskDestroyed, "disk:8,16")

	assert.Equal(t, []int{
		response.DiskCreated,
		response.VolumeCreated,
		response.VolumeStateChanged,
		response.VolumeDestroyed,
		response.DiskDestroyed,
	}, inner.codes)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.disks))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.volumes))

	m.Broadcast(response.DiskCreated, "disk:8,32 8")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.disks))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.events.WithLabelValues("640")))
}
