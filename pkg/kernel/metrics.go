// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsKernel holds Prometheus metrics for the health loop, mirroring
// pkg/callback's per-subsystem counter-struct pattern.
type metricsKernel struct {
	once sync.Once

	healthChecks prometheus.Counter
	healthFails  prometheus.Counter
	restarts     *prometheus.CounterVec
}

var kernelMetrics metricsKernel

func (m *metricsKernel) init() {
	m.once.Do(func() {
		m.healthChecks = prometheus.NewCounter(prometheus.CounterOpts{Name: "kbridge_kernel_health_checks_total", Help: "Health probes issued by the kernel manager"})
		m.healthFails = prometheus.NewCounter(prometheus.CounterOpts{Name: "kbridge_kernel_health_failures_total", Help: "Health probes that returned an error"})
		m.restarts = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kbridge_kernel_restarts_total", Help: "Kernel restarts triggered by the circuit breaker"}, []string{"tier"})

		prometheus.MustRegister(m.healthChecks, m.healthFails, m.restarts)
	})
}
