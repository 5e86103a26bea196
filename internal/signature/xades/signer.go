package xades

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"math/big"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/certs"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// Signer embeds XAdES-EPES signatures using tenant certificate material
type Signer struct {
	certs   certs.Provider
	tenants tenant.Provider
	now     func() time.Time
	newID   func() string
	role    string
	logger  logrus.FieldLogger
}

var _ signature.Signer = (*Signer)(nil)

// Option configures a Signer
type Option func(*Signer)

// WithClock sets the clock used for SigningTime
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

// WithIDGenerator sets the generator for element Id suffixes
func WithIDGenerator(f func() string) Option {
	return func(s *Signer) {
		s.newID = f
	}
}

// WithClaimedRole sets the XAdES ClaimedRole (emisor by default)
func WithClaimedRole(role string) Option {
	return func(s *Signer) {
		s.role = role
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Signer) {
		s.logger = l
	}
}

// NewSigner creates a Signer
func NewSigner(cp certs.Provider, tp tenant.Provider, opts ...Option) *Signer {
	s := &Signer{
		certs:   cp,
		tenants: tp,
		now:     time.Now,
		newID:   uuid.NewString,
		role:    "emisor",
		logger:  logrus.StandardLogger().WithField("component", "xades"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type material struct {
	key  crypto.Signer
	pub  *rsa.PublicKey
	cert *x509.Certificate
}

func (s *Signer) load(ctx context.Context, tenantID string) (*material, error) {
	cfg, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, model.NewConfigError(tenantID, "tenant configuration lookup failed", err)
	}
	if cfg == nil {
		return nil, model.NewConfigError(tenantID, "no tenant configuration", nil)
	}
	password := cfg.ResolvePassword()
	if password == "" {
		return nil, model.NewConfigError(tenantID, "no certificate password on file", nil)
	}

	key, err := s.certs.PrivateKey(ctx, tenantID, password)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, signature.NewKeyError(tenantID, "cannot load private key", err)
	}
	pub, ok := key.Public().(*rsa.PublicKey)
	if !ok {
		return nil, signature.NewKeyError(tenantID, "only RSA keys can sign Facturae", nil)
	}

	pemData, err := s.certs.Certificate(ctx, tenantID, password)
	if err != nil {
		return nil, signature.NewCertError(tenantID, "cannot load certificate", err)
	}
	cert, err := certs.ParseCertificatePEM(pemData)
	if err != nil {
		return nil, signature.NewCertError(tenantID, "cannot parse certificate", err)
	}
	if certPub, ok := cert.PublicKey.(*rsa.PublicKey); !ok || !certPub.Equal(pub) {
		return nil, signature.NewCertError(tenantID, "certificate does not match private key", nil)
	}

	return &material{key: key, pub: pub, cert: cert}, nil
}

// Sign returns document with an enveloped ds:Signature appended to its root.
// No other node of the document is changed.
func (s *Signer) Sign(ctx context.Context, document []byte, tenantID string) ([]byte, error) {
	m, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil {
		return nil, model.NewParseError("xml", "", "malformed XML", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, model.NewParseError("xml", "", "document has no root element", nil)
	}

	ids := newIDs(s.newID())
	signingTime := s.now().UTC()

	docDigest, err := digestElement(AlgSHA256, root)
	if err != nil {
		return nil, err
	}

	sig := root.CreateElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSDsig)
	sig.CreateAttr("xmlns:etsi", NSXAdES)
	sig.CreateAttr("Id", ids.signature)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("Id", ids.signedInfo)
	sigValue := sig.CreateElement("ds:SignatureValue")
	sigValue.CreateAttr("Id", ids.signatureValue)

	keyInfo := buildKeyInfo(sig, ids.keyInfo, m)
	signedProps := s.buildObject(sig, ids, m.cert, signingTime)

	propsDigest, err := digestElement(AlgSHA256, signedProps)
	if err != nil {
		return nil, err
	}
	keyInfoDigest, err := digestElement(AlgSHA256, keyInfo)
	if err != nil {
		return nil, err
	}

	addChild(signedInfo, "ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N10)
	addChild(signedInfo, "ds:SignatureMethod").CreateAttr("Algorithm", AlgRSASHA256)
	addReference(signedInfo, ids.signedPropsRef, TypeSignedProperties, "#"+ids.signedProps, propsDigest, false)
	addReference(signedInfo, "", "", "#"+ids.keyInfo, keyInfoDigest, false)
	addReference(signedInfo, ids.reference, TypeObject, "", docDigest, true)

	c14n, err := canonicalize(signedInfo)
	if err != nil {
		return nil, err
	}
	hashed := sha256.Sum256(c14n)
	raw, err := m.key.Sign(rand.Reader, hashed[:], crypto.SHA256)
	if err != nil {
		return nil, signature.NewKeyError(tenantID, "signing failed", err)
	}
	sigValue.SetText(base64.StdEncoding.EncodeToString(raw))

	// Carriage returns and attribute whitespace must survive re-parsing as
	// the characters that were digested.
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.Wrap(err, "serialize signed document")
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"signature_id": ids.signature,
		"signing_time": signingTime.Format(SigningTimeLayout),
	}).Debug("Document signed")
	return out, nil
}

// SignerInfo reports the status of the tenant's signing certificate
func (s *Signer) SignerInfo(ctx context.Context, tenantID string) (*certs.CertificateStatus, error) {
	cfg, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, model.NewConfigError(tenantID, "tenant configuration lookup failed", err)
	}
	if cfg == nil {
		return nil, model.NewConfigError(tenantID, "no tenant configuration", nil)
	}
	st, err := s.certs.ValidateCertificate(ctx, tenantID, cfg.ResolvePassword())
	if err != nil {
		return nil, signature.NewCertError(tenantID, "cannot read certificate", err)
	}
	return st, nil
}

type elementIDs struct {
	signature, signedInfo, signatureValue, keyInfo string
	object, signedProps, signedPropsRef, reference string
}

func newIDs(suffix string) elementIDs {
	return elementIDs{
		signature:      "Signature-" + suffix,
		signedInfo:     "Signature-" + suffix + "-SignedInfo",
		signatureValue: "SignatureValue-" + suffix,
		keyInfo:        "Certificate-" + suffix,
		object:         "Signature-" + suffix + "-Object",
		signedProps:    "Signature-" + suffix + "-SignedProperties",
		signedPropsRef: "SignedPropertiesID-" + suffix,
		reference:      "Reference-" + suffix,
	}
}

func addChild(parent *etree.Element, tag string) *etree.Element {
	return parent.CreateElement(tag)
}

func addTextChild(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func addReference(signedInfo *etree.Element, id, typ, uri, digestValue string, enveloped bool) {
	ref := signedInfo.CreateElement("ds:Reference")
	if id != "" {
		ref.CreateAttr("Id", id)
	}
	if typ != "" {
		ref.CreateAttr("Type", typ)
	}
	ref.CreateAttr("URI", uri)
	if enveloped {
		ref.CreateElement("ds:Transforms").CreateElement("ds:Transform").CreateAttr("Algorithm", AlgEnvelopedSig)
	}
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	addTextChild(ref, "ds:DigestValue", digestValue)
}

func buildKeyInfo(sig *etree.Element, id string, m *material) *etree.Element {
	keyInfo := sig.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("Id", id)
	addTextChild(keyInfo.CreateElement("ds:X509Data"), "ds:X509Certificate", base64.StdEncoding.EncodeToString(m.cert.Raw))
	rsaValue := keyInfo.CreateElement("ds:KeyValue").CreateElement("ds:RSAKeyValue")
	addTextChild(rsaValue, "ds:Modulus", base64.StdEncoding.EncodeToString(m.pub.N.Bytes()))
	addTextChild(rsaValue, "ds:Exponent", base64.StdEncoding.EncodeToString(big.NewInt(int64(m.pub.E)).Bytes()))
	return keyInfo
}

// buildObject writes the QualifyingProperties and returns SignedProperties
func (s *Signer) buildObject(sig *etree.Element, ids elementIDs, cert *x509.Certificate, signingTime time.Time) *etree.Element {
	obj := sig.CreateElement("ds:Object")
	obj.CreateAttr("Id", ids.object)
	qp := obj.CreateElement("etsi:QualifyingProperties")
	qp.CreateAttr("Target", "#"+ids.signature)

	props := qp.CreateElement("etsi:SignedProperties")
	props.CreateAttr("Id", ids.signedProps)

	ssp := props.CreateElement("etsi:SignedSignatureProperties")
	addTextChild(ssp, "etsi:SigningTime", signingTime.Format(SigningTimeLayout))

	certEl := ssp.CreateElement("etsi:SigningCertificate").CreateElement("etsi:Cert")
	certDigest := certEl.CreateElement("etsi:CertDigest")
	certDigest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	sum := sha256.Sum256(cert.Raw)
	addTextChild(certDigest, "ds:DigestValue", base64.StdEncoding.EncodeToString(sum[:]))
	issuerSerial := certEl.CreateElement("etsi:IssuerSerial")
	addTextChild(issuerSerial, "ds:X509IssuerName", cert.Issuer.String())
	addTextChild(issuerSerial, "ds:X509SerialNumber", cert.SerialNumber.String())

	policyID := ssp.CreateElement("etsi:SignaturePolicyIdentifier").CreateElement("etsi:SignaturePolicyId")
	sigPolicyID := policyID.CreateElement("etsi:SigPolicyId")
	addTextChild(sigPolicyID, "etsi:Identifier", PolicyIdentifier)
	addTextChild(sigPolicyID, "etsi:Description", PolicyDescription)
	policyHash := policyID.CreateElement("etsi:SigPolicyHash")
	policyHash.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", PolicyHashAlg)
	addTextChild(policyHash, "ds:DigestValue", PolicyHash)

	if s.role != "" {
		addTextChild(ssp.CreateElement("etsi:SignerRole").CreateElement("etsi:ClaimedRoles"), "etsi:ClaimedRole", s.role)
	}

	dof := props.CreateElement("etsi:SignedDataObjectProperties").CreateElement("etsi:DataObjectFormat")
	dof.CreateAttr("ObjectReference", "#"+ids.reference)
	addTextChild(dof, "etsi:Description", "Factura electronica")
	addTextChild(dof, "etsi:MimeType", "text/xml")

	return props
}
