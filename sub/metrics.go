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

package sub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spindle",
		Subsystem: "sub",
		Name:      "active",
		Help:      "Live subscriptions.",
	})
	updateCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spindle",
		Subsystem: "sub",
		Name:      "updates_total",
		Help:      "Incremental updates delivered.",
	})
	rowCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spindle",
		Subsystem: "sub",
		Name:      "rows_total",
		Help:      "Rows delivered in incremental updates.",
	})
	failedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spindle",
		Subsystem: "sub",
		Name:      "failed_total",
		Help:      "Subscriptions ended by evaluation errors.",
	})
)
