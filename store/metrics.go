// Copyright (C) 2023 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spindle",
		Subsystem: "store",
		Name:      "commits_total",
		Help:      "Committed write transactions.",
	})
	abortCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spindle",
		Subsystem: "store",
		Name:      "aborts_total",
		Help:      "Rolled-back write transactions.",
	})
	degradedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spindle",
		Subsystem: "store",
		Name:      "degraded",
		Help:      "1 when the datastore is read-only after a durability failure.",
	})
)
