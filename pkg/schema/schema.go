// Package schema validates raw input batches against the embedded wire
// format before they reach the typed event union. Validation is fail-closed
// at the envelope and per event: a violating event decodes to a typed
// placeholder at its original index, which the kernel refuses in place
// without disturbing its neighbors. The wire schema checks structure only;
// vector policy stays with the kernel, which treats reserved bits as a batch
// abort rather than a per-event refusal.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/macterra/Axio-sub002/pkg/kernel"
)

//go:embed batch.schema.json
var rawBatchSchema string

const schemaURL = "https://axio.schemas.local/kernel/batch.schema.json"

var batchSchema = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(rawBatchSchema)); err != nil {
		panic(fmt.Sprintf("schema: add resource: %v", err))
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("schema: compile: %v", err))
	}
	return compiled
}

// Violation ties one wire-format violation to the event it occurred in.
type Violation struct {
	EventIndex int    `json:"event_index"`
	Detail     string `json:"detail"`
}

// EnvelopeError reports a batch whose envelope cannot be processed at all.
type EnvelopeError struct {
	Detail string
}

func (e *EnvelopeError) Error() string {
	return "batch envelope invalid: " + e.Detail
}

// DecodeBatch validates raw bytes against the wire schema and decodes the
// typed events. Per-event violations are returned alongside the events, one
// entry per offending index; only envelope-level damage is an error. The
// returned slice always has one event per wire event, in wire order.
func DecodeBatch(raw []byte) ([]kernel.Event, []Violation, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &EnvelopeError{Detail: err.Error()}
	}

	byIndex := map[int][]string{}
	if err := batchSchema.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return nil, nil, &EnvelopeError{Detail: err.Error()}
		}
		for _, leaf := range leaves(ve) {
			idx, ok := eventIndex(leaf.InstanceLocation)
			if !ok {
				return nil, nil, &EnvelopeError{Detail: violationDetail(leaf)}
			}
			byIndex[idx] = append(byIndex[idx], violationDetail(leaf))
		}
	}

	var env struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, &EnvelopeError{Detail: err.Error()}
	}

	events := make([]kernel.Event, len(env.Events))
	for i, rawEvent := range env.Events {
		if err := json.Unmarshal(rawEvent, &events[i]); err != nil {
			// Keep the declared type so the refusal can name it.
			events[i] = kernel.Event{Type: declaredType(rawEvent)}
			byIndex[i] = append(byIndex[i], err.Error())
		}
	}
	// Strip the payload of every violating event. The placeholder keeps its
	// slot and declared type, and the kernel refuses it at the same index.
	for idx := range byIndex {
		if idx < len(events) {
			events[idx] = kernel.Event{Type: events[idx].Type}
		}
	}

	violations := make([]Violation, 0, len(byIndex))
	for idx, details := range byIndex {
		violations = append(violations, Violation{EventIndex: idx, Detail: strings.Join(details, "; ")})
	}
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].EventIndex < violations[j].EventIndex
	})
	if len(violations) == 0 {
		violations = nil
	}
	return events, violations, nil
}

// EncodeBatch renders events into the wire envelope DecodeBatch accepts.
func EncodeBatch(events []kernel.Event) ([]byte, error) {
	if events == nil {
		events = []kernel.Event{}
	}
	return json.Marshal(struct {
		Events []kernel.Event `json:"events"`
	}{Events: events})
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		out = append(out, leaves(cause)...)
	}
	return out
}

// eventIndex extracts N from instance locations of the form /events/N/...
func eventIndex(location string) (int, bool) {
	rest, ok := strings.CutPrefix(location, "/events/")
	if !ok {
		return 0, false
	}
	head, _, _ := strings.Cut(rest, "/")
	idx, err := strconv.Atoi(head)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func violationDetail(leaf *jsonschema.ValidationError) string {
	if leaf.InstanceLocation == "" {
		return leaf.Message
	}
	return leaf.InstanceLocation + ": " + leaf.Message
}

func declaredType(raw json.RawMessage) kernel.EventType {
	var header struct {
		Type kernel.EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return ""
	}
	return header.Type
}
