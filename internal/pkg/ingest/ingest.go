package ingest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"polip/internal/pkg/auth"
	"polip/internal/pkg/device"
	"polip/internal/pkg/rpc"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const apiBase = "/api/device/v1"

// ErrUnknownSerial indicates no registration exists for a serial.
var ErrUnknownSerial = errors.New("unknown serial")

// Registration is the server-side view of one device.
type Registration struct {
	Serial       string
	Key          []byte
	SkipTagCheck bool
	Value        uint32
	State        device.Document
	Sense        device.Document
	Notification device.Document

	offers []*offer
}

// offer is one RPC the server wants the device to run.
type offer struct {
	uuid       string
	typ        string
	status     rpc.Status
	parameters device.Document
	result     interface{}
}

// Server is the in-memory ingest server. It implements http.Handler.
type Server struct {
	mu      sync.Mutex
	devices map[string]*Registration
	router  *mux.Router
}

// NewServer creates an empty ingest server.
func NewServer() *Server {
	s := &Server{
		devices: make(map[string]*Registration),
	}
	r := mux.NewRouter()
	r.HandleFunc(apiBase+"/health/check", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(apiBase+"/poll", s.handlePoll).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/state", s.handleState).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/sense", s.handleSense).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/error", s.handleError).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/value", s.handleValue).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/rpc", s.handleRPC).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/meta", s.handleMeta).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/schema", s.handleSchema).Methods(http.MethodPost)
	r.HandleFunc(apiBase+"/error/semantic", s.handleErrorSemantic).Methods(http.MethodPost)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Register adds a device registration. The sync value starts at zero.
func (s *Server) Register(serial string, key []byte, skipTagCheck bool) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := &Registration{
		Serial:       serial,
		Key:          key,
		SkipTagCheck: skipTagCheck,
		State:        device.Document{},
		Sense:        device.Document{},
	}
	s.devices[serial] = reg
	return reg
}

// OfferRPC queues a pending RPC offer for the device and returns its
// server-assigned id.
func (s *Server) OfferRPC(serial, typ string, parameters device.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return "", ErrUnknownSerial
	}
	o := &offer{
		uuid:       uuid.New().String(),
		typ:        typ,
		status:     rpc.StatusPending,
		parameters: parameters,
	}
	reg.offers = append(reg.offers, o)
	return o.uuid, nil
}

// CancelRPC marks an offered RPC as canceled so the device is asked to
// abandon it on its next poll.
func (s *Server) CancelRPC(serial, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return ErrUnknownSerial
	}
	for _, o := range reg.offers {
		if o.uuid == id {
			o.status = rpc.StatusCanceled
			return nil
		}
	}
	return errors.Errorf("rpc %s not offered", id)
}

// WithdrawRPC silently removes an offer, as if another actor had claimed
// it. Used to exercise the device's mark-and-sweep path.
func (s *Server) WithdrawRPC(serial, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return ErrUnknownSerial
	}
	reg.removeOffer(id)
	return nil
}

// Device returns the registration for a serial, or nil.
func (s *Server) Device(serial string) *Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[serial]
}

// State returns a copy of the device's last pushed state. Safe to call
// while the server is handling requests.
func (s *Server) State(serial string) device.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return nil
	}
	return reg.State.Clone()
}

// Value returns the device's current server-side sync value.
func (s *Server) Value(serial string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return 0
	}
	return reg.Value
}

// OfferStatus returns the wire status of an offer under the server lock,
// or "" when the offer is gone.
func (s *Server) OfferStatus(serial, id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.devices[serial]
	if !ok {
		return ""
	}
	return reg.OfferStatus(id)
}

func (r *Registration) removeOffer(id string) {
	for i, o := range r.offers {
		if o.uuid == id {
			r.offers = append(r.offers[:i], r.offers[i+1:]...)
			return
		}
	}
}

// OfferStatus returns the wire status of an offer, or "" when the offer
// is gone.
func (r *Registration) OfferStatus(id string) string {
	for _, o := range r.offers {
		if o.uuid == id {
			return o.status.String()
		}
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, _, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	payload := device.Document{}
	query := r.URL.Query()
	if query.Get("state") == "true" {
		payload["state"] = reg.State
	}
	if query.Get("manufacturer") == "true" {
		payload["manufacturer"] = device.Document{}
	}
	if query.Get("rpc") == "true" {
		listing := make([]interface{}, 0, len(reg.offers))
		for _, o := range reg.offers {
			listing = append(listing, device.Document{
				"uuid":       o.uuid,
				"type":       o.typ,
				"status":     o.status.String(),
				"parameters": o.parameters,
			})
		}
		payload["rpc"] = listing
	}
	s.respond(w, reg, payload)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, doc, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	state, ok := doc.Object("state")
	if !ok {
		http.Error(w, "missing state", http.StatusBadRequest)
		return
	}
	reg.State = state
	s.respond(w, reg, device.Document{})
}

func (s *Server) handleSense(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, doc, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	sense, ok := doc.Object("sense")
	if !ok {
		http.Error(w, "missing sense", http.StatusBadRequest)
		return
	}
	reg.Sense = sense
	s.respond(w, reg, device.Document{})
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, doc, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	if !doc.Has("code") || !doc.Has("message") {
		http.Error(w, "missing code or message", http.StatusBadRequest)
		return
	}
	reg.Notification = device.Document{
		"code":    doc["code"],
		"message": doc["message"],
	}
	s.respond(w, reg, device.Document{})
}

// handleValue serves the authoritative sync value. Neither the tag nor
// the value is checked: this is the recovery path for a desynchronized
// device.
func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := decode(w, r)
	if !ok {
		return
	}
	reg, ok := s.devices[doc.String("serial")]
	if !ok {
		http.Error(w, "unknown serial", http.StatusNotFound)
		return
	}
	s.respond(w, reg, device.Document{"value": reg.Value})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, doc, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	rpcObj, ok := doc.Object("rpc")
	if !ok {
		http.Error(w, "missing rpc", http.StatusBadRequest)
		return
	}
	id := rpcObj.String("uuid")
	status := rpc.ParseStatus(rpcObj.String("status"))

	for _, o := range reg.offers {
		if o.uuid != id {
			continue
		}
		switch {
		case status == rpc.StatusAcknowledged && o.status == rpc.StatusCanceled:
			// Cancellation accepted.
			reg.removeOffer(id)
		case status == rpc.StatusRejected && o.status == rpc.StatusCanceled:
			// Cancellation refused; re-offer as pending.
			o.status = rpc.StatusPending
			o.parameters = nil
		case status.Terminal():
			reg.removeOffer(id)
		default:
			o.status = status
			o.result = rpcObj["result"]
		}
		break
	}
	s.respond(w, reg, device.Document{})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, _, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	payload := device.Document{}
	query := r.URL.Query()
	for _, section := range []string{"state", "sensors", "manufacturer", "general"} {
		if query.Get(section) == "true" {
			payload[section] = device.Document{}
		}
	}
	s.respond(w, reg, payload)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, _, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	s.respond(w, reg, device.Document{"schema": device.Document{}})
}

func (s *Server) handleErrorSemantic(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, _, ok := s.authenticate(w, r, true)
	if !ok {
		return
	}
	payload := device.Document{"semantic": []interface{}{}}
	if code := r.URL.Query().Get("code"); code != "" {
		payload = device.Document{"code": code, "semantic": device.Document{}}
	}
	s.respond(w, reg, payload)
}

// authenticate decodes the request body, verifies the tag and, when
// required, the sync value. The value advances on success so both sides
// stay aligned. Callers must hold the server lock.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, requireValue bool) (*Registration, device.Document, bool) {
	doc, ok := decode(w, r)
	if !ok {
		return nil, nil, false
	}
	reg, found := s.devices[doc.String("serial")]
	if !found {
		http.Error(w, "unknown serial", http.StatusNotFound)
		return nil, nil, false
	}
	if !reg.SkipTagCheck {
		verified, err := auth.Verify(reg.Key, doc.String(auth.TagField), doc)
		if err != nil || !verified {
			logger.WithField("serial", reg.Serial).Warn("request tag verification failed")
			http.Error(w, "tag invalid", http.StatusUnauthorized)
			return nil, nil, false
		}
	}
	if requireValue {
		value, present := doc.Uint32("value")
		if !present || value != reg.Value {
			http.Error(w, "value invalid", http.StatusBadRequest)
			return nil, nil, false
		}
		reg.Value++
	}
	return reg, doc, true
}

func decode(w http.ResponseWriter, r *http.Request) (device.Document, bool) {
	var doc device.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return nil, false
	}
	return doc, true
}

// respond tags and writes a response document carrying the registration
// identity fields.
func (s *Server) respond(w http.ResponseWriter, reg *Registration, payload device.Document) {
	doc := payload.Clone()
	doc["serial"] = reg.Serial
	doc["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	doc[auth.TagField] = auth.TagPlaceholder
	if !reg.SkipTagCheck {
		tag, err := auth.ComputeTag(reg.Key, doc)
		if err != nil {
			http.Error(w, "tag computation failed", http.StatusInternalServerError)
			return
		}
		doc[auth.TagField] = tag
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		logger.WithError(err).Warn("write response failed")
	}
}
