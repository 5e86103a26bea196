package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/certs/certstest"
	"github.com/rezonia/einvoice-engine/internal/codec"
	"github.com/rezonia/einvoice-engine/internal/delivery"
	"github.com/rezonia/einvoice-engine/internal/gateway"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/processor"
	"github.com/rezonia/einvoice-engine/internal/server"
	"github.com/rezonia/einvoice-engine/internal/signature/xades"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

func invoiceData() map[string]any {
	return map[string]any{
		"invoice_number": "F-2026-007",
		"issue_date":     "2026-03-15",
		"seller":         map[string]any{"name": "Servicios Norte SL", "tax_id": "B12345678"},
		"buyer":          map[string]any{"name": "Ayuntamiento de Ejemplo", "tax_id": "P2807900B"},
		"lines": []any{
			map[string]any{"description": "Mantenimiento", "quantity": 2, "price": 250, "net_amount": 500},
		},
		"tax_totals":        []any{map[string]any{"taxable_amount": 500, "tax_amount": 105}},
		"total_without_tax": 500,
		"total_tax":         105,
		"total_with_tax":    605,
		"payment_means":     map[string]any{"iban": "ES9121000418450200051332"},
		"administrative_centres": []any{
			map[string]any{"code": "L01280796", "role": "01"},
			map[string]any{"code": "L01280796", "role": "02"},
			map[string]any{"code": "L01280796", "role": "03"},
		},
	}
}

type fixture struct {
	server *server.Server
	sink   *delivery.MemorySink
	signer *xades.Signer
}

func newFixture(t *testing.T, gw gateway.Client) *fixture {
	t.Helper()
	m := certstest.New(t, "SERVICIOS NORTE SL", "B12345678")
	tenants := tenant.NewStaticProvider(
		tenant.Config{TenantID: "acme", Active: true, Environment: tenant.EnvironmentStub, CertificatePassword: "pw"},
	)
	if gw == nil {
		gw = gateway.NewDefaultRouter(tenants)
	}
	signer := xades.NewSigner(m.Static("acme", "pw"), tenants)
	sink := delivery.NewMemorySink()
	orchestrator := delivery.NewOrchestrator(gw, sink)

	srv := server.NewServer(&server.Config{Address: ":0"}, server.Services{
		Verifier: xades.NewVerifier(),
		Pipeline: processor.NewPipeline(signer, orchestrator),
		Delivery: orchestrator,
	})
	return &fixture{server: srv, sink: sink, signer: signer}
}

func (f *fixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func document(t *testing.T, format codec.Format) []byte {
	t.Helper()
	inv, err := model.FromMap(invoiceData())
	require.NoError(t, err)
	out, err := codec.New().Generate(inv, format)
	require.NoError(t, err)
	return out
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// failingGateway answers every call with the same error
type failingGateway struct{ err error }

func (g failingGateway) Submit(context.Context, []byte, string) (*gateway.Submission, error) {
	return &gateway.Submission{State: gateway.StateFailed}, g.err
}

func (g failingGateway) Query(context.Context, string, string) (*gateway.Status, error) {
	return nil, g.err
}

func (g failingGateway) Cancel(context.Context, string, string, string) (*gateway.Submission, error) {
	return &gateway.Submission{State: gateway.StateFailed}, g.err
}

func (g failingGateway) TestConnection(context.Context, string) error { return g.err }

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

func TestDetectEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   []byte
		format string
		root   string
	}{
		{"facturae", document(t, codec.FormatFacturae), string(codec.FormatFacturae), "Facturae"},
		{"ubl", document(t, codec.FormatUBL), string(codec.FormatUBL), "Invoice"},
		{"foreign xml", []byte(`<Order xmlns="urn:example"/>`), string(codec.FormatUnknown), "Order"},
		{"not xml", []byte("%PDF-1.7"), string(codec.FormatUnknown), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/detect", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			var resp server.DetectResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.format, resp.Format)
			assert.Equal(t, tt.root, resp.Root)
			assert.Equal(t, len(tt.body), resp.Size)
		})
	}
}

func TestEmptyBodies(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/v1/detect", "/api/v1/convert?target=ubl", "/api/v1/validate", "/api/v1/verify"} {
		w := f.do(http.MethodPost, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestConvertEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/convert?target=ubl", document(t, codec.FormatFacturae))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")

	inv, err := codec.New().ToNeutralModel(context.Background(), w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "F-2026-007", inv.Number)
	assert.Equal(t, "605.00", inv.TotalWithTax.StringFixed(2))
}

func TestConvertEndpoint_Errors(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/convert?target=pdf", document(t, codec.FormatUBL))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/convert?target=facturae", []byte(`<Order xmlns="urn:example"/>`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/validate", document(t, codec.FormatUBL))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["valid"])
	assert.Equal(t, string(codec.FormatUBL), resp["format"])
	assert.Equal(t, true, resp["degraded"])

	w = f.do(http.MethodPost, "/api/v1/validate?format=facturae", []byte("<Facturae"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])

	w = f.do(http.MethodPost, "/api/v1/validate?format=edifact", document(t, codec.FormatUBL))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	signed, err := f.signer.Sign(context.Background(), document(t, codec.FormatFacturae), "acme")
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/v1/verify", signed)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, true, resp["valid"])
	signer, ok := resp["signer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "B12345678", signer["tax_id"])

	tampered := bytes.Replace(signed, []byte("605.00"), []byte("6050.00"), 1)
	w = f.do(http.MethodPost, "/api/v1/verify", tampered)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])
}

func TestInvoicesEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	body, err := json.Marshal(invoiceData())
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/v1/invoices?target=ubl&tenant=acme", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Stage      string              `json:"stage"`
		DocumentID string              `json:"document_id"`
		SignedXML  string              `json:"signed_xml"`
		Submission *gateway.Submission `json:"submission"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(processor.StageDone), resp.Stage)
	assert.Equal(t, "acme/F-2026-007", resp.DocumentID)
	require.NotNil(t, resp.Submission)
	assert.True(t, strings.HasPrefix(resp.Submission.RegistryNumber, gateway.StubPrefix))
	assert.Contains(t, resp.SignedXML, "SignatureValue")
	assert.Len(t, f.sink.ForDocument("acme/F-2026-007"), 1)
}

func TestInvoicesEndpoint_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ok, err := json.Marshal(invoiceData())
	require.NoError(t, err)

	unbalanced := invoiceData()
	unbalanced["total_with_tax"] = 700
	bad, err := json.Marshal(unbalanced)
	require.NoError(t, err)

	missing := invoiceData()
	delete(missing, "buyer")
	incomplete, err := json.Marshal(missing)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		body   []byte
		status int
	}{
		{"no tenant", "/api/v1/invoices?target=ubl", ok, http.StatusBadRequest},
		{"bad target", "/api/v1/invoices?target=xlsx&tenant=acme", ok, http.StatusBadRequest},
		{"not json", "/api/v1/invoices?tenant=acme", []byte("<Invoice/>"), http.StatusBadRequest},
		{"missing key", "/api/v1/invoices?tenant=acme", incomplete, http.StatusBadRequest},
		{"business rules", "/api/v1/invoices?tenant=acme", bad, http.StatusUnprocessableEntity},
		{"unknown tenant", "/api/v1/invoices?tenant=ghost", ok, http.StatusFailedDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.sink.Entries())
}

func TestInvoicesEndpoint_RemoteFailure(t *testing.T) {
	remote := gateway.NewRemoteGatewayError(gateway.ChannelFACe, "enviarFactura", 503, "", "unexpected HTTP status", nil)
	f := newFixture(t, failingGateway{err: remote})
	body, err := json.Marshal(invoiceData())
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/v1/invoices?tenant=acme", body)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["retryable"])

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Failed())
}

func TestSubmissionEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	registry := gateway.SubmissionID([]byte("<signed/>"), "acme")

	w := f.do(http.MethodGet, "/api/v1/submissions/"+registry+"?tenant=acme", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.NotNil(t, status.Status)
	assert.Equal(t, gateway.StateAccepted, status.Status.State)

	w = f.do(http.MethodPost, "/api/v1/submissions/"+registry+"/cancel?tenant=acme&document=acme/F-1",
		[]byte(`{"reason":"duplicated"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled server.SubmissionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	require.NotNil(t, cancelled.Submission)
	assert.Equal(t, gateway.StateCancelled, cancelled.Submission.State)

	assert.Len(t, f.sink.ForDocument(registry), 1)
	assert.Len(t, f.sink.ForDocument("acme/F-1"), 1)

	w = f.do(http.MethodGet, "/api/v1/submissions/"+registry, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/submissions/"+registry+"/cancel?tenant=acme", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmissionEndpoints_Timeout(t *testing.T) {
	f := newFixture(t, failingGateway{err: gateway.NewCancellationError(gateway.ChannelFACe, "consultarFactura", context.DeadlineExceeded)})

	w := f.do(http.MethodGet, "/api/v1/submissions/REG-1?tenant=acme", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, true, decode(t, w)["retryable"])
}

func TestUnconfiguredServices(t *testing.T) {
	srv := server.NewServer(&server.Config{}, server.Services{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/verify"},
		{http.MethodPost, "/api/v1/invoices?tenant=acme"},
		{http.MethodGet, "/api/v1/submissions/REG-1?tenant=acme"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}"))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, tc.path)
	}
}

func TestConcurrentRequests(t *testing.T) {
	f := newFixture(t, nil)
	doc := document(t, codec.FormatFacturae)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := f.do(http.MethodPost, "/api/v1/detect", doc)
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()
}

func BenchmarkDetect(b *testing.B) {
	srv := server.NewServer(&server.Config{}, server.Services{})
	doc := []byte(`<Invoice xmlns="` + codec.NSUBLInvoice + `"/>`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", bytes.NewReader(doc))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
	}
}
