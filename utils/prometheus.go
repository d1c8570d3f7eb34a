package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// GetCounterValue reads the current value of a counter. Tests use
// this to assert on retry and cache hit rates without scraping.
func GetCounterValue(metric prometheus.Counter) (int64, error) {
	m := &dto.Metric{}
	err := metric.Write(m)
	if err != nil {
		return 0, err
	}

	return int64(m.Counter.GetValue()), nil
}
