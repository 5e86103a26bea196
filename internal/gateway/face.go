package gateway

import (
	"github.com/beevik/etree"

	"github.com/rezonia/einvoice-engine/internal/tenant"
)

// FACe endpoints
const (
	FACeStagingURL    = "https://se-face-webservice.redsara.es/facturasspp2"
	FACeProductionURL = "https://webservice.face.gob.es/facturasspp2"
)

const nsFACe = "https://webservice.face.gob.es"

var faceProtocol = protocol{
	channel:    ChannelFACe,
	namespace:  nsFACe,
	prefix:     "web",
	staging:    FACeStagingURL,
	production: FACeProductionURL,

	successCode:   "0",
	resultCode:    "resultado/codigo",
	resultMessage: "resultado/descripcion",

	submitOp:    "enviarFactura",
	queryOp:     "consultarFactura",
	cancelOp:    "anularFactura",
	pingOp:      "consultarEstados",
	registryRef: "factura/numeroRegistro",

	buildSubmit: func(op *etree.Element, cfg *tenant.Config, payload []byte) {
		req := op.CreateElement("request")
		addText(req, "correo", cfg.Email)
		f := req.CreateElement("factura")
		addText(f, "factura", encodePayload(payload))
		addText(f, "nombre", fileName(payload))
		addText(f, "mime", "application/xml")
		req.CreateElement("anexos")
	},
	buildQuery: func(op *etree.Element, registryNumber string) {
		addText(op, "numeroRegistro", registryNumber)
	},
	buildCancel: func(op *etree.Element, registryNumber, reason string) {
		addText(op, "numeroRegistro", registryNumber)
		addText(op, "motivo", reason)
	},
	buildPing: func(*etree.Element) {},

	statusCode:        "tramitacion/codigo",
	statusDescription: "tramitacion/descripcion",
	statusReason:      "tramitacion/motivo",
	cancelCode:        "anulacion/codigo",
	cancelDescription: "anulacion/descripcion",
	cancelReason:      "anulacion/motivo",
}

// FACe is the client for the public-sector registry
type FACe struct {
	*registry
}

var _ Client = (*FACe)(nil)

// NewFACe creates a FACe client
func NewFACe(tenants tenant.Provider, opts ...Option) *FACe {
	return &FACe{registry: newRegistry(faceProtocol, tenants, "gateway.face", opts)}
}
