package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Flag values for risk.flag.
const (
	FlagSafe = "SAFE"
	FlagRisk = "RISK"
)

// Metric names in the order they appear in the rubric.
const (
	MetricContentCoverage     = "content_coverage"
	MetricFacilitationQuality = "facilitation_quality"
	MetricProtocolSafety      = "protocol_safety"
)

var metricNames = []string{MetricContentCoverage, MetricFacilitationQuality, MetricProtocolSafety}

type Metric struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

type Metrics struct {
	ContentCoverage     Metric `json:"content_coverage"`
	FacilitationQuality Metric `json:"facilitation_quality"`
	ProtocolSafety      Metric `json:"protocol_safety"`
}

type Risk struct {
	Flag  string  `json:"flag"`
	Quote *string `json:"quote"`
}

// EvaluationResult is the canonical, validated evaluator verdict.
type EvaluationResult struct {
	Summary string  `json:"summary"`
	Metrics Metrics `json:"metrics"`
	Risk    Risk    `json:"risk"`
}

// IsSafe is the boolean the persistence layer stores alongside the scores.
func (r *EvaluationResult) IsSafe() bool { return r.Risk.Flag == FlagSafe }

// FieldError is one schema violation. Got holds the offending value as
// compact JSON, empty when the field was missing.
type FieldError struct {
	Path    string `json:"path"`
	Problem string `json:"problem"`
	Got     string `json:"got,omitempty"`
}

// SchemaValidationError carries every violation found in one evaluator reply.
type SchemaValidationError struct {
	Fields []FieldError
}

func (e *SchemaValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Path + ": " + f.Problem
		if f.Got != "" {
			parts[i] += " (got " + f.Got + ")"
		}
	}
	return "evaluation result violates schema: " + strings.Join(parts, "; ")
}

// Has reports whether any violation was recorded at path.
func (e *SchemaValidationError) Has(path string) bool {
	for _, f := range e.Fields {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Validate checks raw evaluator JSON against the strict result schema and
// returns the canonical result. Unknown keys, non-integer scores and missing
// fields are all violations; nothing is defaulted.
func Validate(raw []byte) (*EvaluationResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaValidationError{Fields: []FieldError{{Path: "$", Problem: "is not valid JSON: " + err.Error()}}}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &SchemaValidationError{Fields: []FieldError{{Path: "$", Problem: "has trailing data after the object"}}}
	}

	v := &validator{}
	res := v.result(doc)
	if len(v.fields) > 0 {
		return nil, &SchemaValidationError{Fields: v.fields}
	}
	return res, nil
}

type validator struct {
	fields []FieldError
}

func (v *validator) fail(path, problem string, got any) {
	if path == "" {
		path = "$"
	}
	fe := FieldError{Path: path, Problem: problem}
	if got != nil {
		if b, err := json.Marshal(got); err == nil {
			fe.Got = string(b)
		}
	}
	v.fields = append(v.fields, fe)
}

// object checks that val is an object containing exactly the allowed keys.
func (v *validator) object(path string, val any, keys ...string) (map[string]any, bool) {
	obj, ok := val.(map[string]any)
	if !ok {
		v.fail(path, "must be an object", val)
		return nil, false
	}
	allowed := make(map[string]bool, len(keys))
	for _, k := range keys {
		allowed[k] = true
		if _, present := obj[k]; !present {
			v.fail(join(path, k), "is required", nil)
		}
	}
	var extra []string
	for k := range obj {
		if !allowed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		v.fail(join(path, k), "is not an allowed field", obj[k])
	}
	return obj, true
}

func (v *validator) nonEmptyString(path string, val any, present bool) string {
	if !present {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		v.fail(path, "must be a string", val)
		return ""
	}
	if strings.TrimSpace(s) == "" {
		v.fail(path, "must not be empty", val)
	}
	return s
}

func (v *validator) result(doc any) *EvaluationResult {
	obj, ok := v.object("", doc, "summary", "metrics", "risk")
	if !ok {
		return nil
	}
	res := &EvaluationResult{}

	s, present := obj["summary"]
	res.Summary = v.nonEmptyString("summary", s, present)

	if m, present := obj["metrics"]; present {
		if metrics, ok := v.object("metrics", m, metricNames...); ok {
			res.Metrics.ContentCoverage = v.metric(metrics, MetricContentCoverage)
			res.Metrics.FacilitationQuality = v.metric(metrics, MetricFacilitationQuality)
			res.Metrics.ProtocolSafety = v.metric(metrics, MetricProtocolSafety)
		}
	}

	if r, present := obj["risk"]; present {
		res.Risk = v.risk(r)
	}
	return res
}

func (v *validator) metric(metrics map[string]any, name string) Metric {
	val, present := metrics[name]
	if !present {
		return Metric{}
	}
	path := "metrics." + name
	obj, ok := v.object(path, val, "score", "justification")
	if !ok {
		return Metric{}
	}

	var m Metric
	if raw, present := obj["score"]; present {
		m.Score = v.score(path+".score", raw)
	}
	j, present := obj["justification"]
	m.Justification = v.nonEmptyString(path+".justification", j, present)
	return m
}

func (v *validator) score(path string, raw any) int {
	num, ok := raw.(json.Number)
	if !ok {
		v.fail(path, "must be an integer", raw)
		return 0
	}
	// json.Number keeps the literal, so 2.0 and 2e0 are rejected here.
	n, err := num.Int64()
	if err != nil {
		v.fail(path, "must be an integer", raw)
		return 0
	}
	if n < 1 || n > 3 {
		v.fail(path, "must be 1, 2 or 3", raw)
		return 0
	}
	return int(n)
}

func (v *validator) risk(val any) Risk {
	obj, ok := v.object("risk", val, "flag", "quote")
	if !ok {
		return Risk{}
	}

	var r Risk
	if raw, present := obj["flag"]; present {
		flag, isString := raw.(string)
		switch {
		case !isString:
			v.fail("risk.flag", "must be a string", raw)
		case flag != FlagSafe && flag != FlagRisk:
			v.fail("risk.flag", fmt.Sprintf("must be %q or %q", FlagSafe, FlagRisk), raw)
		default:
			r.Flag = flag
		}
	}

	raw, present := obj["quote"]
	if !present {
		return r
	}
	switch r.Flag {
	case FlagSafe:
		if raw != nil {
			v.fail("risk.quote", "must be null when flag is SAFE", raw)
		}
	case FlagRisk:
		q, isString := raw.(string)
		if !isString || strings.TrimSpace(q) == "" {
			v.fail("risk.quote", "must be a non-empty string when flag is RISK", raw)
		} else {
			r.Quote = &q
		}
	default:
		if raw != nil {
			if _, isString := raw.(string); !isString {
				v.fail("risk.quote", "must be a string or null", raw)
			}
		}
	}
	return r
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
