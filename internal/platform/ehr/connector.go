package ehr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/pkg/rxerr"
)

// Connector is the operation set every supported EHR system provides.
type Connector interface {
	GetPatient(ctx context.Context, patientID string) (*fhir.Patient, error)
	GetMedications(ctx context.Context, patientID string) ([]fhir.MedicationRequest, error)
	CreatePrescription(ctx context.Context, req *fhir.MedicationRequest) (*CreatedPrescription, error)
	GetPrescriptionStatus(ctx context.Context, prescriptionID string) (*PrescriptionStatus, error)
}

// ClinicalExtras is the optional richer clinical surface. Connectors that
// support it are discovered by type assertion; absence is not an error.
type ClinicalExtras interface {
	GetAllergies(ctx context.Context, patientID string) ([]json.RawMessage, error)
	GetConditions(ctx context.Context, patientID string) ([]json.RawMessage, error)
}

// CreatedPrescription is the identity a target EHR assigned to a pushed
// prescription order.
type CreatedPrescription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PrescriptionStatus is a point-in-time status snapshot of an order in an EHR.
type PrescriptionStatus struct {
	PrescriptionID string `json:"prescription_id"`
	Status         string `json:"status"`
	AuthoredOn     string `json:"authored_on,omitempty"`
	Medication     string `json:"medication,omitempty"`
}

// restClient is the shared authenticated FHIR REST transport underneath the
// per-vendor connectors.
type restClient struct {
	baseURL    string
	pathPrefix string
	headers    map[string]string
	tokens     *TokenManager
	httpc      *http.Client
	log        zerolog.Logger
}

func newRESTClient(baseURL string, tokens *TokenManager, log zerolog.Logger) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

func (c *restClient) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, params, nil, out)
}

func (c *restClient) post(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	return c.do(ctx, http.MethodPost, endpoint, nil, body, out)
}

func (c *restClient) do(ctx context.Context, method, endpoint string, params url.Values, body, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	u := c.baseURL + "/" + c.pathPrefix + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return rxerr.Wrap(rxerr.KindFormat, "request body marshalling failed", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return rxerr.Wrap(rxerr.KindTransport, "request build failed", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return rxerr.Wrap(rxerr.KindTransport, "EHR endpoint unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.tokens.Invalidate()
		return rxerr.Newf(rxerr.KindAuth, "EHR rejected credentials with %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return rxerr.Newf(rxerr.KindNotFound, "%s %s returned 404", method, endpoint)
	case resp.StatusCode >= 400:
		c.log.Error().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("EHR API request failed")
		return rxerr.Newf(rxerr.KindTransport, "EHR returned %d for %s %s", resp.StatusCode, method, endpoint)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rxerr.Wrap(rxerr.KindFormat, "EHR response malformed", err)
	}
	return nil
}

// searchBundle is the slice of a FHIR searchset Bundle the connectors read.
type searchBundle struct {
	Entry []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// resources flattens the searchset entries.
func (b searchBundle) resources() []json.RawMessage {
	out := make([]json.RawMessage, 0, len(b.Entry))
	for _, e := range b.Entry {
		out = append(out, e.Resource)
	}
	return out
}

// searchMedications runs a MedicationRequest search and decodes each entry.
func (c *restClient) searchMedications(ctx context.Context, endpoint string, params url.Values) ([]fhir.MedicationRequest, error) {
	var bundle searchBundle
	if err := c.get(ctx, endpoint, params, &bundle); err != nil {
		return nil, err
	}
	meds := make([]fhir.MedicationRequest, 0, len(bundle.Entry))
	for _, raw := range bundle.resources() {
		var mr fhir.MedicationRequest
		if err := json.Unmarshal(raw, &mr); err != nil {
			return nil, rxerr.Wrap(rxerr.KindFormat, "MedicationRequest entry malformed", err)
		}
		meds = append(meds, mr)
	}
	return meds, nil
}
