package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewTransactionBundle wraps the given resources in a transaction Bundle,
// adding a POST request entry per resource.
func NewTransactionBundle(resources ...interface{}) (*Bundle, error) {
	now := time.Now().UTC()
	b := &Bundle{
		ResourceType: "Bundle",
		Type:         "transaction",
		Timestamp:    &now,
	}
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		b.Entry = append(b.Entry, BundleEntry{
			Resource: raw,
			Request:  &BundleRequest{Method: "POST", URL: resourceTypeOf(raw)},
		})
	}
	return b, nil
}

// resourceTypeOf peeks at the resourceType of a marshalled resource.
func resourceTypeOf(raw json.RawMessage) string {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ResourceType
}
