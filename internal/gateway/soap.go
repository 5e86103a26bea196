package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

const nsSOAPEnv = "http://schemas.xmlsoap.org/soap/envelope/"

// soapTransport posts SOAP 1.1 envelopes and classifies the failures
type soapTransport struct {
	channel string
	o       options

	mu      sync.Mutex
	clients map[string]tenantClient
}

type tenantClient struct {
	client   *resty.Client
	notAfter time.Time
}

type soapResponse struct {
	// Payload is the first element inside soapenv:Body
	Payload    *etree.Element
	Raw        []byte
	HTTPStatus int
}

func envelope(operation *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", nsSOAPEnv)
	env.CreateElement("soapenv:Header")
	env.CreateElement("soapenv:Body").AddChild(operation)
	return doc.WriteToBytes()
}

func (t *soapTransport) call(ctx context.Context, cfg *tenant.Config, endpoint, operation, action string, body *etree.Element) (*soapResponse, error) {
	payload, err := envelope(body)
	if err != nil {
		return nil, errors.Wrap(err, "build SOAP envelope")
	}

	callCtx := ctx
	if t.o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.o.timeout)
		defer cancel()
	}

	log := t.o.logger.WithFields(logrus.Fields{
		"operation": operation,
		"endpoint":  endpoint,
		"bytes":     len(payload),
	})
	log.Debug("Calling registry")

	resp, err := t.client(ctx, cfg).R().
		SetContext(callCtx).
		SetHeader("Content-Type", "text/xml; charset=utf-8").
		SetHeader("SOAPAction", `"`+action+`"`).
		SetBody(payload).
		Post(endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, NewCancellationError(t.channel, operation, ctxErr)
		}
		if callCtx.Err() != nil {
			return nil, NewRemoteGatewayError(t.channel, operation, 0, "", "timed out", err)
		}
		log.WithError(err).Error("Registry unreachable")
		return nil, NewRemoteGatewayError(t.channel, operation, 0, "", "transport failure", err)
	}

	out := &soapResponse{Raw: resp.Body(), HTTPStatus: resp.StatusCode()}
	log.WithField("status", out.HTTPStatus).WithField("duration", resp.Time()).Debug("Registry answered")

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(out.Raw); err != nil || doc.Root() == nil {
		if resp.IsError() {
			return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus, "", "unexpected HTTP status", nil)
		}
		return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus, "", "response is not XML", err)
	}
	soapBody := doc.FindElement("//Body")
	if soapBody == nil {
		return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus, "", "response has no SOAP body", nil)
	}
	if fault := soapBody.FindElement("./Fault"); fault != nil {
		return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus,
			text(fault, "faultcode"), "SOAP fault: "+text(fault, "faultstring"), nil)
	}
	if resp.IsError() {
		return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus, "", "unexpected HTTP status", nil)
	}
	if children := soapBody.ChildElements(); len(children) > 0 {
		out.Payload = children[0]
	}
	if out.Payload == nil {
		return out, NewRemoteGatewayError(t.channel, operation, out.HTTPStatus, "", "empty SOAP body", nil)
	}
	return out, nil
}

// client returns a resty client presenting the tenant's certificate when
// certificate material is configured and loadable. The client is derived
// from the configured one and kept per tenant until the certificate expires.
func (t *soapTransport) client(ctx context.Context, cfg *tenant.Config) *resty.Client {
	if t.o.certs == nil || cfg == nil {
		return t.o.http
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[cfg.TenantID]; ok && t.o.now().Before(c.notAfter) {
		return c.client
	}

	password := cfg.ResolvePassword()
	log := t.o.logger.WithField("tenant", cfg.TenantID)

	key, err := t.o.certs.PrivateKey(ctx, cfg.TenantID, password)
	if err != nil {
		log.WithError(err).Warn("No client key, calling without TLS client authentication")
		return t.o.http
	}
	pemData, err := t.o.certs.Certificate(ctx, cfg.TenantID, password)
	if err != nil {
		log.WithError(err).Warn("No client certificate, calling without TLS client authentication")
		return t.o.http
	}
	cert, err := certs.ParseCertificatePEM(pemData)
	if err != nil {
		log.WithError(err).Warn("Unreadable client certificate, calling without TLS client authentication")
		return t.o.http
	}
	client, err := withClientCertificate(t.o.http, tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key, Leaf: cert})
	if err != nil {
		log.WithError(err).Warn("Cannot add a client certificate, calling without TLS client authentication")
		return t.o.http
	}

	if t.clients == nil {
		t.clients = make(map[string]tenantClient)
	}
	t.clients[cfg.TenantID] = tenantClient{client: client, notAfter: cert.NotAfter}
	return client
}

// withClientCertificate copies base with its transport cloned and the
// certificate added to the TLS configuration. base is left untouched.
func withClientCertificate(base *resty.Client, cert tls.Certificate) (*resty.Client, error) {
	hc := base.GetClient()

	var transport *http.Transport
	switch tr := hc.Transport.(type) {
	case nil:
		transport = http.DefaultTransport.(*http.Transport).Clone()
	case *http.Transport:
		transport = tr.Clone()
	default:
		return nil, errors.Errorf("unsupported transport %T", hc.Transport)
	}

	tlsConfig := transport.TLSClientConfig.Clone()
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	transport.TLSClientConfig = tlsConfig

	client := resty.NewWithClient(&http.Client{
		Transport:     transport,
		Timeout:       hc.Timeout,
		Jar:           hc.Jar,
		CheckRedirect: hc.CheckRedirect,
	})
	if h := base.Header.Clone(); h != nil {
		client.Header = h
	}
	return client, nil
}

// text returns the trimmed text of the first descendant matching path
func text(el *etree.Element, path string) string {
	if el == nil {
		return ""
	}
	if found := el.FindElement(".//" + path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

func addText(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

// fingerprint identifies a payload in logs without logging it
func fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
