// Package metrics writes CloudWatch Embedded Metric Format (EMF) records.
// EMF documents are single JSON lines; when the process's output is shipped
// to CloudWatch Logs the embedded metrics are extracted automatically.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for all stylist metrics.
const Namespace = "AiVirtualStylist"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Sink is the destination for flushed records. A nil *Sink discards
// everything, so callers never need to check whether metrics are enabled.
type Sink struct {
	mu        sync.Mutex
	w         io.Writer
	namespace string
	service   string
}

// NewSink returns a sink writing to w. service becomes the "Service"
// dimension on every record (e.g. "stylist-web").
func NewSink(w io.Writer, namespace, service string) *Sink {
	return &Sink{w: w, namespace: namespace, service: service}
}

// Stdout returns a sink writing to standard output under Namespace.
func Stdout(service string) *Sink {
	return NewSink(os.Stdout, Namespace, service)
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF flush.
// It is NOT safe for concurrent use; create one per operation.
type Recorder struct {
	sink       *Sink
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

// New starts a record on s.
func (s *Sink) New() *Recorder {
	r := &Recorder{
		sink:       s,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if s != nil && s.service != "" {
		r.dimensions["Service"] = s.service
	}
	return r
}

// Dimension adds a dimension key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count is a convenience for recording a count metric (value = 1).
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a non-metric field. Properties are searchable in Logs
// Insights but do not create CloudWatch metrics.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush serializes the record as one JSON line to the sink.
// Records without metrics, and records on a nil sink, are dropped.
func (r *Recorder) Flush() {
	if r.sink == nil || len(r.metrics) == 0 {
		return
	}

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for _, m := range r.metrics {
		metricDefs = append(metricDefs, m)
	}
	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}

	doc := make(map[string]interface{}, len(r.dimensions)+len(r.values)+len(r.properties)+1)
	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.sink.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.properties {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}

	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	fmt.Fprintln(r.sink.w, string(data))
}

// Generation records one remote generation call. result is "success" or a
// short failure class such as "no_image" or "api_error".
func (s *Sink) Generation(operation, model, result string, d time.Duration, outputBytes int) {
	rec := s.New().
		Dimension("Operation", operation).
		Dimension("Result", result).
		Metric("GenerationMs", float64(d.Milliseconds()), UnitMilliseconds).
		Count("GenerationResult").
		Property("model", model)
	if outputBytes > 0 {
		rec.Metric("OutputBytes", float64(outputBytes), UnitBytes)
	}
	rec.Flush()
}
