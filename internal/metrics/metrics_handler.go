package metrics

import (
	"sync"
	"time"

	"lendwatch/logger"
)

// Metric kinds carried on events.
const (
	TypeCounter  = "counter"
	TypeGauge    = "gauge"
	TypeDuration = "duration_ms"
)

// Metric is one structured metric event. Every Prometheus update made through
// this package is mirrored as an event so in-process consumers such as the
// dashboard see the same numbers without scraping.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// MetricHandler consumes metric events. Handlers run on the emitting
// goroutine and must not block.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler; zero means none.
type MetricHandlerID uint64

type handlerSet struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	next     MetricHandlerID
}

var sinks = &handlerSet{handlers: make(map[MetricHandlerID]MetricHandler)}

// RegisterMetricHandler subscribes handler to every later event.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	sinks.next++
	sinks.handlers[sinks.next] = handler
	return sinks.next
}

// UnregisterMetricHandler drops a handler. Unknown ids are ignored.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	sinks.mu.Lock()
	delete(sinks.handlers, id)
	sinks.mu.Unlock()
}

// Emit logs the event at debug level and fans it out to the handlers.
func Emit(component, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = TypeCounter
	}

	own := make(logger.Fields, len(fields))
	for k, v := range fields {
		own[k] = v
	}

	logger.GetLogger().WithComponent(component).WithFields(own).WithFields(logger.Fields{
		"metric":      name,
		"metric_type": metricType,
		"value":       value,
	}).Debug("metric")

	sinks.dispatch(Metric{
		Timestamp: time.Now().UTC(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    own,
	})
}

func (s *handlerSet) dispatch(m Metric) {
	s.mu.RLock()
	handlers := make([]MetricHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}
