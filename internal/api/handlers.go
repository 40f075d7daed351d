package api

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"time"

	"crypto/x509/pkix"

	"github.com/go-chi/chi/v5"

	"github.com/frestoinc/xipki/internal/ca"
	"github.com/frestoinc/xipki/internal/caerrors"
	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/mgmt"
	"github.com/frestoinc/xipki/internal/ocspstore"
	"github.com/frestoinc/xipki/internal/x509util"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps typed operation errors to HTTP statuses; policy errors
// surface verbatim, system failures are sanitised.
func writeError(w http.ResponseWriter, err error) {
	code := caerrors.CodeOf(err)

	status := http.StatusInternalServerError
	message := err.Error()
	switch code {
	case caerrors.BadCertTemplate, caerrors.BadRequest:
		status = http.StatusBadRequest
	case caerrors.NotPermitted:
		status = http.StatusForbidden
	case caerrors.AlreadyIssued:
		status = http.StatusConflict
	case caerrors.UnknownCertProfile:
		status = http.StatusNotFound
	case caerrors.SystemFailure, caerrors.DatabaseFailure, caerrors.CRLFailure:
		message = "internal error"
	}

	writeJSON(w, status, errorResponse{Code: code.String(), Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready := true
	detail := map[string]any{}

	if s.manager != nil {
		status := s.manager.Status()
		detail["caSystem"] = string(status)
		if status != mgmt.StatusStartedAsMaster && status != mgmt.StatusStartedAsSlave {
			ready = false
		}
	}
	if s.ocsp != nil {
		healthy := s.ocsp.IsHealthy()
		detail["ocspStore"] = healthy
		if !healthy {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, detail)
}

func (s *Server) handleListCas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   s.manager.CaNames(),
		"failed":   s.manager.FailedCaNames(),
		"inactive": s.manager.InactiveCaNames(),
	})
}

type issueRequest struct {
	Profile   string `json:"profile"`
	Requestor string `json:"requestor"`

	// Subject maps attribute short names to values, e.g. {"cn": "..."}.
	Subject map[string]string `json:"subject"`

	// PublicKey is the base64 DER SubjectPublicKeyInfo; empty with
	// serverKeygen requests CA-side key generation.
	PublicKey    string `json:"publicKey,omitempty"`
	ServerKeygen bool   `json:"serverKeygen,omitempty"`

	NotBefore *time.Time `json:"notBefore,omitempty"`
	NotAfter  *time.Time `json:"notAfter,omitempty"`

	CrossCert bool `json:"crossCert,omitempty"`
}

type issueResponse struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"privateKey,omitempty"`
	Serial      string `json:"serial"`
	Warning     string `json:"warning,omitempty"`
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "invalid request body", err))
		return
	}

	subject, err := subjectFromMap(req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}

	data := &ca.CertTemplateData{
		Subject:      subject,
		ProfileName:  req.Profile,
		ServerKeygen: req.ServerKeygen,
		ForCrossCert: req.CrossCert,
	}
	if req.PublicKey != "" {
		spki, err := base64.StdEncoding.DecodeString(req.PublicKey)
		if err != nil {
			writeError(w, caerrors.Wrap(caerrors.BadRequest, "publicKey is not base64", err))
			return
		}
		data.PublicKey = spki
	}
	if req.NotBefore != nil {
		data.NotBefore = *req.NotBefore
	}
	if req.NotAfter != nil {
		data.NotAfter = *req.NotAfter
	}

	issued, err := s.manager.GenerateCertificate(r.Context(), req.Requestor, chi.URLParam(r, "ca"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := issueResponse{
		Certificate: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: issued.CertDER})),
		Serial:      certstore.NormSerial(issued.Serial),
		Warning:     issued.Warning,
	}
	if len(issued.PrivateKeyDER) > 0 {
		resp.PrivateKey = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: issued.PrivateKeyDER}))
	}
	writeJSON(w, http.StatusOK, resp)
}

func subjectFromMap(attrs map[string]string) (pkix.RDNSequence, error) {
	var order = []struct {
		key string
		oid []int
	}{
		{"c", x509util.OIDDNCountry},
		{"st", x509util.OIDDNProvince},
		{"l", x509util.OIDDNLocality},
		{"street", x509util.OIDDNStreetAddress},
		{"postalcode", x509util.OIDDNPostalCode},
		{"o", x509util.OIDDNOrganization},
		{"ou", x509util.OIDDNOrganizationalUnit},
		{"givenname", x509util.OIDDNGivenName},
		{"surname", x509util.OIDDNSurname},
		{"cn", x509util.OIDDNCommonName},
	}

	var subject pkix.RDNSequence
	seen := 0
	for _, entry := range order {
		if value, ok := attrs[entry.key]; ok && value != "" {
			subject = x509util.AppendAttribute(subject, entry.oid, value)
			seen++
		}
	}
	if seen != countNonEmpty(attrs) {
		return nil, caerrors.New(caerrors.BadRequest, "unsupported subject attribute")
	}
	return subject, nil
}

func countNonEmpty(attrs map[string]string) int {
	n := 0
	for _, v := range attrs {
		if v != "" {
			n++
		}
	}
	return n
}

func parseSerialParam(r *http.Request) (*big.Int, error) {
	raw := chi.URLParam(r, "serial")
	serial, ok := new(big.Int).SetString(raw, 16)
	if !ok || serial.Sign() != 1 {
		return nil, caerrors.Errorf(caerrors.BadRequest, "invalid serial %q", raw)
	}
	return serial, nil
}

type revokeRequest struct {
	Reason         string     `json:"reason"`
	InvalidityTime *time.Time `json:"invalidityTime,omitempty"`
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	serial, err := parseSerialParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "invalid request body", err))
		return
	}
	reason, err := certstore.ParseCrlReason(req.Reason)
	if err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "invalid reason", err))
		return
	}

	if err := s.manager.RevokeCertificate(chi.URLParam(r, "ca"), serial, reason, req.InvalidityTime); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	serial, err := parseSerialParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manager.UnsuspendCertificate(chi.URLParam(r, "ca"), serial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unsuspended": true})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	serial, err := parseSerialParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.manager.RemoveCertificate(chi.URLParam(r, "ca"), serial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleGenerateCrl(w http.ResponseWriter, r *http.Request) {
	crlDER, err := s.manager.GenerateCrl(r.Context(), chi.URLParam(r, "ca"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(crlDER)
}

func (s *Server) handleRevokeCa(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "invalid request body", err))
		return
	}
	reason, err := certstore.ParseCrlReason(req.Reason)
	if err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "invalid reason", err))
		return
	}

	rev := &certstore.RevocationInfo{
		Reason:         reason,
		RevocationTime: time.Now().UTC(),
		InvalidityTime: req.InvalidityTime,
	}
	if err := s.manager.RevokeCa(chi.URLParam(r, "ca"), rev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleUnrevokeCa(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.UnrevokeCa(chi.URLParam(r, "ca")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unrevoked": true})
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.manager.RestartCaSystem()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"started":  summary.Started,
		"failed":   summary.Failed,
		"inactive": summary.Inactive,
	})
}

func (s *Server) handleNotify(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.NotifyCaChange(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"notified": true})
}

func (s *Server) handleUnlock(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.UnlockCaSystem(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": true})
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="ca-conf.zip"`)
	if err := s.manager.ExportConf(w); err != nil {
		s.log.WithError(err).Error("export failed")
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "failed to read archive", err))
		return
	}
	summary, err := s.manager.ImportConf(data)
	if err != nil {
		writeError(w, caerrors.Wrap(caerrors.BadRequest, "import failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"started": summary.Started,
		"failed":  summary.Failed,
	})
}

type ocspStatusResponse struct {
	Status         string     `json:"status"`
	ThisUpdate     time.Time  `json:"thisUpdate"`
	NextUpdate     *time.Time `json:"nextUpdate,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	RevocationTime *time.Time `json:"revocationTime,omitempty"`
	InvalidityTime *time.Time `json:"invalidityTime,omitempty"`
	CertHash       string     `json:"certHash,omitempty"`
	CertHashAlgo   string     `json:"certHashAlgo,omitempty"`
	ArchiveCutoff  *time.Time `json:"archiveCutoff,omitempty"`
}

func (s *Server) handleOcspStatus(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	nameHash, err := hex.DecodeString(query.Get("nameHash"))
	if err != nil {
		writeError(w, caerrors.New(caerrors.BadRequest, "invalid nameHash"))
		return
	}
	keyHash, err := hex.DecodeString(query.Get("keyHash"))
	if err != nil {
		writeError(w, caerrors.New(caerrors.BadRequest, "invalid keyHash"))
		return
	}
	serial, ok := new(big.Int).SetString(query.Get("serial"), 16)
	if !ok {
		writeError(w, caerrors.New(caerrors.BadRequest, "invalid serial"))
		return
	}
	algo := ocspstore.HashAlgo(query.Get("hashAlgo"))
	if algo == "" {
		algo = ocspstore.HashSHA1
	}

	reqIssuer := &ocspstore.RequestIssuer{HashAlgo: algo, NameHash: nameHash, KeyHash: keyHash}
	info, err := s.ocsp.GetCertStatus(time.Now().UTC(), reqIssuer, serial,
		query.Get("certHash") == "true", query.Get("rit") == "true", query.Get("inheritCaRevocation") != "false")
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "UNKNOWN_ISSUER", Message: "issuer is not served here"})
		return
	}

	resp := ocspStatusResponse{
		Status:        info.Status.String(),
		ThisUpdate:    info.ThisUpdate,
		NextUpdate:    info.NextUpdate,
		ArchiveCutoff: info.ArchiveCutoff,
	}
	if info.Revocation != nil {
		resp.Reason = info.Revocation.Reason.String()
		revTime := info.Revocation.RevocationTime
		resp.RevocationTime = &revTime
		resp.InvalidityTime = info.Revocation.InvalidityTime
	}
	if len(info.CertHash) > 0 {
		resp.CertHash = base64.StdEncoding.EncodeToString(info.CertHash)
		resp.CertHashAlgo = info.CertHashAlgo
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOcspIssuer(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	nameHash, err1 := hex.DecodeString(query.Get("nameHash"))
	keyHash, err2 := hex.DecodeString(query.Get("keyHash"))
	if err1 != nil || err2 != nil {
		writeError(w, caerrors.New(caerrors.BadRequest, "invalid issuer hashes"))
		return
	}
	algo := ocspstore.HashAlgo(query.Get("hashAlgo"))
	if algo == "" {
		algo = ocspstore.HashSHA1
	}

	der := s.ocsp.GetIssuerCert(&ocspstore.RequestIssuer{HashAlgo: algo, NameHash: nameHash, KeyHash: keyHash})
	if der == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "UNKNOWN_ISSUER", Message: "issuer is not served here"})
		return
	}
	w.Header().Set("Content-Type", "application/pkix-cert")
	_, _ = w.Write(der)
}
