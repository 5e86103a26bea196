package xades

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/einvoice-engine/internal/signature"
	"github.com/rezonia/einvoice-engine/internal/signature/trust"
)

// Verifier checks signatures produced by Signer and by other XAdES-EPES
// producers using the same algorithms.
type Verifier struct {
	trust  *trust.Store
	now    func() time.Time
	logger logrus.FieldLogger
}

var _ signature.Verifier = (*Verifier)(nil)

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithTrustStore enables chain and revocation checks
func WithTrustStore(ts *trust.Store) VerifierOption {
	return func(v *Verifier) {
		v.trust = ts
	}
}

// WithVerifierClock sets the clock used for certificate expiry warnings
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithVerifierLogger sets the logger
func WithVerifierLogger(l logrus.FieldLogger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

// NewVerifier creates a Verifier. Without a trust store only the signature
// itself and its certificate binding are checked.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		now:    time.Now,
		logger: logrus.StandardLogger().WithField("component", "xades"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the first ds:Signature in document. Malformed input and
// missing signatures produce an invalid result, not an error.
func (v *Verifier) Verify(ctx context.Context, document []byte) (*signature.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := signature.NewVerificationResult()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(document); err != nil || doc.Root() == nil {
		msg := "malformed XML: document has no root element"
		if err != nil {
			msg = fmt.Sprintf("malformed XML: %v", err)
		}
		res.AddError(msg)
		return res, nil
	}
	root := doc.Root()

	sig := findSignature(root)
	if sig == nil {
		res.AddError(signature.ErrNoSignature().Message)
		return res, nil
	}
	res.SignatureFound = true

	signedInfo := child(sig, "SignedInfo")
	if signedInfo == nil {
		res.AddError("ds:Signature has no ds:SignedInfo")
		return res, nil
	}

	cert := v.certificate(sig, res)
	v.checkReferences(root, sig, signedInfo, res)
	if cert != nil {
		v.checkSignatureValue(sig, signedInfo, cert, res)
		res.SetSigner(cert)
	}
	v.checkSignedProperties(root, sig, signedInfo, cert, res)

	if cert != nil && v.trust != nil {
		v.checkTrust(ctx, sig, cert, res)
	}

	res.ComputeValidity()
	v.logger.WithFields(logrus.Fields{
		"valid":  res.Valid,
		"errors": len(res.Errors),
	}).Debug("Signature verified")
	return res, nil
}

func (v *Verifier) certificate(sig *etree.Element, res *signature.VerificationResult) *x509.Certificate {
	el := path(sig, "KeyInfo", "X509Data", "X509Certificate")
	if el == nil {
		res.AddError("ds:KeyInfo has no X509Certificate")
		return nil
	}
	der, err := decodeBase64(text(el))
	if err != nil {
		res.AddError(fmt.Sprintf("X509Certificate is not base64: %v", err))
		return nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		res.AddError(fmt.Sprintf("X509Certificate cannot be parsed: %v", err))
		return nil
	}
	return cert
}

func (v *Verifier) checkReferences(root, sig, signedInfo *etree.Element, res *signature.VerificationResult) {
	sigID := sig.SelectAttrValue("Id", "")
	ok := true
	coversDocument := false

	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag != "Reference" {
			continue
		}
		uri := ref.SelectAttrValue("URI", "")

		var target *etree.Element
		if uri == "" {
			target = withoutSignature(root, sigID)
			coversDocument = true
		} else if len(uri) > 1 && uri[0] == '#' {
			target = findByID(root, uri[1:])
		}
		if target == nil {
			res.AddError(fmt.Sprintf("Reference %q points to no element", uri))
			ok = false
			continue
		}

		if err := checkTransforms(ref, uri == ""); err != nil {
			res.AddError(err.Error())
			ok = false
			continue
		}

		alg := attr(child(ref, "DigestMethod"), "Algorithm")
		got, err := digestElement(alg, target)
		if err != nil {
			res.AddError(signature.ErrUnsupportedAlgorithm(alg).Error())
			ok = false
			continue
		}
		if got != text(path(ref, "DigestValue")) {
			res.AddError(signature.ErrDigestMismatch(uri).Error())
			ok = false
		}
	}

	if !coversDocument {
		res.AddError("no Reference covers the signed document")
		ok = false
	}
	res.ReferencesValid = ok
}

func checkTransforms(ref *etree.Element, enveloped bool) error {
	transforms := child(ref, "Transforms")
	if transforms == nil {
		return nil
	}
	for _, t := range transforms.ChildElements() {
		switch alg := t.SelectAttrValue("Algorithm", ""); alg {
		case AlgEnvelopedSig:
			if !enveloped {
				return errors.New("enveloped-signature transform on a same-document reference")
			}
		case AlgC14N10:
		default:
			return signature.ErrUnsupportedAlgorithm(alg)
		}
	}
	return nil
}

func (v *Verifier) checkSignatureValue(sig, signedInfo *etree.Element, cert *x509.Certificate, res *signature.VerificationResult) {
	if uri := attr(child(signedInfo, "CanonicalizationMethod"), "Algorithm"); uri != AlgC14N10 {
		res.AddError(signature.ErrUnsupportedAlgorithm(uri).Error())
		return
	}

	uri := attr(child(signedInfo, "SignatureMethod"), "Algorithm")
	hash, ok := signatureAlgorithms[uri]
	if !ok {
		res.AddError(signature.ErrUnsupportedAlgorithm(uri).Error())
		return
	}

	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		res.AddError(fmt.Sprintf("certificate key type %T does not match %s", cert.PublicKey, uri))
		return
	}

	raw, err := decodeBase64(text(child(sig, "SignatureValue")))
	if err != nil {
		res.AddError(signature.ErrInvalidSignature(err).Error())
		return
	}
	c14n, err := canonicalize(signedInfo)
	if err != nil {
		res.AddError(err.Error())
		return
	}
	h := hash.New()
	h.Write(c14n)
	if err := rsa.VerifyPKCS1v15(pub, hash, h.Sum(nil), raw); err != nil {
		res.AddError(signature.ErrInvalidSignature(err).Error())
		return
	}
	res.SignatureValid = true
}

func (v *Verifier) checkSignedProperties(root, sig, signedInfo *etree.Element, cert *x509.Certificate, res *signature.VerificationResult) {
	props := path(sig, "Object", "QualifyingProperties", "SignedProperties")
	if props == nil {
		res.AddError("XAdES SignedProperties not found")
		return
	}

	covered := false
	id := props.SelectAttrValue("Id", "")
	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag == "Reference" && ref.SelectAttrValue("Type", "") == TypeSignedProperties &&
			id != "" && ref.SelectAttrValue("URI", "") == "#"+id {
			covered = true
		}
	}
	if !covered {
		res.AddError("SignedProperties are not covered by a signed reference")
	}

	ssp := child(props, "SignedSignatureProperties")
	if st := text(child(ssp, "SigningTime")); st != "" {
		t, err := parseSigningTime(st)
		if err != nil {
			res.AddError(fmt.Sprintf("SigningTime %q: %v", st, err))
		} else {
			res.SigningTime = &t
		}
	} else {
		res.AddError("SigningTime is missing")
	}

	res.PolicyIdentifier = text(path(ssp, "SignaturePolicyIdentifier", "SignaturePolicyId", "SigPolicyId", "Identifier"))
	switch {
	case res.PolicyIdentifier == "":
		res.AddWarning("no signature policy identifier (not XAdES-EPES)")
	case res.PolicyIdentifier != PolicyIdentifier:
		res.AddWarning(fmt.Sprintf("signature policy %s is not the Facturae policy", res.PolicyIdentifier))
	}

	if cert == nil {
		return
	}
	certDigest := path(ssp, "SigningCertificate", "Cert", "CertDigest")
	if certDigest == nil {
		res.AddError("SigningCertificate digest is missing")
		return
	}
	alg := attr(child(certDigest, "DigestMethod"), "Algorithm")
	want, err := digest(alg, cert.Raw)
	if err != nil {
		res.AddError(signature.ErrUnsupportedAlgorithm(alg).Error())
		return
	}
	if want != text(child(certDigest, "DigestValue")) {
		res.AddError("SigningCertificate digest does not match the KeyInfo certificate")
		return
	}
	res.CertDigestValid = true

	if res.SigningTime != nil {
		switch {
		case res.SigningTime.After(cert.NotAfter):
			res.AddError(signature.ErrCertExpired(cert.Subject.CommonName).Error())
		case res.SigningTime.Before(cert.NotBefore):
			res.AddError(signature.ErrCertNotYetValid(cert.Subject.CommonName).Error())
		}
	}
	if v.now().After(cert.NotAfter) {
		res.AddWarning("signing certificate has expired since the document was signed")
	}
}

func parseSigningTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("not an xsd:dateTime")
}

// checkTrust verifies the chain as of the signing time and the signer's
// revocation status.
func (v *Verifier) checkTrust(ctx context.Context, sig *etree.Element, cert *x509.Certificate, res *signature.VerificationResult) {
	res.ChainChecked = true

	var intermediates []*x509.Certificate
	for _, el := range path(sig, "KeyInfo", "X509Data").SelectElements("X509Certificate") {
		der, err := decodeBase64(text(el))
		if err != nil {
			continue
		}
		if c, err := x509.ParseCertificate(der); err == nil && !c.Equal(cert) {
			intermediates = append(intermediates, c)
		}
	}

	var at time.Time
	if res.SigningTime != nil {
		at = *res.SigningTime
	}
	chain, err := v.trust.VerifyChain(cert, intermediates, at)
	if err != nil {
		res.AddError(signature.ErrChainInvalid(err).Error())
		return
	}
	res.CertChainValid = true
	res.CertChain = chain

	if len(chain) < 2 {
		res.AddWarning("revocation check skipped: no issuer certificate in chain")
		return
	}

	notRevoked, err := v.trust.CheckRevocation(ctx, cert, chain[1])
	switch {
	case err != nil && v.trust.IsSoftFail():
		res.AddWarning(signature.ErrOCSPUnavailable(err).Error())
	case err != nil:
		res.NotRevoked = false
		res.AddError(signature.ErrOCSPUnavailable(err).Error())
	case !notRevoked:
		res.NotRevoked = false
		res.AddError(signature.ErrCertRevoked(cert.Subject.CommonName).Error())
	}
}
