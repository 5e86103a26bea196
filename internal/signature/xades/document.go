// Package xades produces and checks enveloped XAdES-EPES signatures with the
// Facturae signature policy.
package xades

import (
	"crypto"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	dsig "github.com/russellhaering/goxmldsig"

	// Registers SHA-1 for policy and legacy certificate digests
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Namespaces
const (
	NSDsig  = "http://www.w3.org/2000/09/xmldsig#"
	NSXAdES = "http://uri.etsi.org/01903/v1.3.2#"
)

// Algorithm identifiers
const (
	AlgC14N10            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgEnvelopedSig      = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgRSASHA256         = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgRSASHA512         = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	AlgSHA1              = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgSHA256            = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgSHA512            = "http://www.w3.org/2001/04/xmlenc#sha512"
	TypeSignedProperties = "http://uri.etsi.org/01903#SignedProperties"
	TypeObject           = "http://www.w3.org/2000/09/xmldsig#Object"
)

// Facturae signature policy v3.1
const (
	PolicyIdentifier  = "http://www.facturae.gob.es/politica_de_firma_formato_facturae/politica_de_firma_formato_facturae_v3_1.pdf"
	PolicyDescription = "Politica de firma electronica para facturacion electronica con formato Facturae"
	PolicyHash        = "Ohixl6upD6av8N7pEvDABhEL6hM="
	PolicyHashAlg     = AlgSHA1
)

// SigningTimeLayout is the UTC layout written to SigningTime
const SigningTimeLayout = "2006-01-02T15:04:05Z"

var digestAlgorithms = map[string]crypto.Hash{
	AlgSHA1:   crypto.SHA1,
	AlgSHA256: crypto.SHA256,
	AlgSHA512: crypto.SHA512,
}

var signatureAlgorithms = map[string]crypto.Hash{
	AlgRSASHA256: crypto.SHA256,
	AlgRSASHA512: crypto.SHA512,
}

var canonicalizer = dsig.MakeC14N10RecCanonicalizer()

// canonicalize renders el as inclusive C14N 1.0 including the namespace
// declarations it inherits from its ancestors.
func canonicalize(el *etree.Element) ([]byte, error) {
	out, err := canonicalizer.Canonicalize(detach(el))
	if err != nil {
		return nil, errors.Wrapf(err, "canonicalize %s", el.Tag)
	}
	return out, nil
}

// detach copies el and declares on the copy every namespace in scope at el
// that el does not declare itself.
func detach(el *etree.Element) *etree.Element {
	cp := el.Copy()
	declared := make(map[string]bool)
	for _, a := range cp.Attr {
		if key, ok := nsDecl(a); ok {
			declared[key] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			key, ok := nsDecl(a)
			if !ok || declared[key] {
				continue
			}
			declared[key] = true
			cp.Attr = append(cp.Attr, etree.Attr{Space: a.Space, Key: a.Key, Value: a.Value})
		}
	}
	return cp
}

// nsDecl returns the declared prefix ("" for the default namespace)
func nsDecl(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "xmlns":
		return a.Key, true
	case a.Space == "" && a.Key == "xmlns":
		return "", true
	}
	return "", false
}

func digest(alg string, data []byte) (string, error) {
	h, ok := digestAlgorithms[alg]
	if !ok || !h.Available() {
		return "", errors.Errorf("unsupported digest algorithm %s", alg)
	}
	hh := h.New()
	hh.Write(data)
	return base64.StdEncoding.EncodeToString(hh.Sum(nil)), nil
}

func digestElement(alg string, el *etree.Element) (string, error) {
	c14n, err := canonicalize(el)
	if err != nil {
		return "", err
	}
	return digest(alg, c14n)
}

// isDsig reports whether el is the XML-DSig element with the given local name
func isDsig(el *etree.Element, local string) bool {
	return el.Tag == local && (el.NamespaceURI() == NSDsig || el.Space == "ds")
}

// findSignature returns the first ds:Signature, preferring direct children
// of the root.
func findSignature(root *etree.Element) *etree.Element {
	for _, child := range root.ChildElements() {
		if isDsig(child, "Signature") {
			return child
		}
	}
	var found *etree.Element
	walk(root, func(el *etree.Element) bool {
		if isDsig(el, "Signature") {
			found = el
			return false
		}
		return true
	})
	return found
}

// findByID returns the element whose Id attribute equals id
func findByID(root *etree.Element, id string) *etree.Element {
	var found *etree.Element
	walk(root, func(el *etree.Element) bool {
		for _, key := range []string{"Id", "ID", "id"} {
			if el.SelectAttrValue(key, "") == id {
				found = el
				return false
			}
		}
		return true
	})
	return found
}

// walk visits el and its descendants depth-first until fn returns false
func walk(el *etree.Element, fn func(*etree.Element) bool) bool {
	if !fn(el) {
		return false
	}
	for _, child := range el.ChildElements() {
		if !walk(child, fn) {
			return false
		}
	}
	return true
}

// child returns the first direct child with the given local name
func child(el *etree.Element, local string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// path follows a chain of local names through direct children
func path(el *etree.Element, locals ...string) *etree.Element {
	for _, l := range locals {
		el = child(el, l)
		if el == nil {
			return nil
		}
	}
	return el
}

func attr(el *etree.Element, key string) string {
	if el == nil {
		return ""
	}
	return el.SelectAttrValue(key, "")
}

func text(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// withoutSignature copies root and removes the signature identified by
// sigID, which is what the enveloped-signature transform does.
func withoutSignature(root *etree.Element, sigID string) *etree.Element {
	cp := root.Copy()
	var target *etree.Element
	walk(cp, func(el *etree.Element) bool {
		if isDsig(el, "Signature") && (sigID == "" || el.SelectAttrValue("Id", "") == sigID) {
			target = el
			return false
		}
		return true
	})
	if target != nil && target.Parent() != nil {
		target.Parent().RemoveChild(target)
	}
	return cp
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, s)
	return base64.StdEncoding.DecodeString(s)
}
