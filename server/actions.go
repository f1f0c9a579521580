package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"flight-hunter/pkg/hunter"
)

// OTPTTL is how long an issued code stays valid.
const OTPTTL = 300 * time.Second

// actionRequest is the union of every action's fields.
type actionRequest struct {
	Adults           *int   `json:"adults"`
	Children         *int   `json:"children"`
	Infants          *int   `json:"infants"`
	Action           string `json:"action"`
	Contact          string `json:"contact"`
	OTP              string `json:"otp"`
	Username         string `json:"username"`
	OriginSkyID      string `json:"originSkyId"`
	DestinationSkyID string `json:"destinationSkyId"`
	DepartureDate    string `json:"departureDate"`
	ReturnDate       string `json:"returnDate"`
	CabinClass       string `json:"cabinClass"`
	Stops            string `json:"stops"`
	Notes            string `json:"notes"`
	URL              string `json:"url"`
	Query            string `json:"query"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, body []byte) {
	var req actionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn("Undecodable request body", "error", err)
		s.writeJSON(w, http.StatusBadRequest, message("Invalid request body"))
		return
	}

	s.logger.Info("Action received", "action", req.Action, "ip", clientIP(r))

	switch req.Action {
	case "SEND_OTP":
		s.handleSendOTP(w, r, &req)
	case "VERIFY_OTP":
		s.handleVerifyOTP(w, r, &req)
	case "SCRAPE_ONE":
		s.handleScrapeOne(w, r, &req)
	case "RESOLVE_ENTITY":
		s.handleResolveEntity(w, &req)
	default:
		s.writeJSON(w, http.StatusBadRequest, message("Invalid action"))
	}
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	contact := strings.TrimSpace(req.Contact)
	if contact == "" {
		s.writeJSON(w, http.StatusBadRequest, message("Contact is required"))
		return
	}

	code, err := generateOTP()
	if err != nil {
		s.logger.Error("Failed to generate OTP", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, message("Could not issue OTP"))
		return
	}

	otp := &hunter.OTP{
		Contact:   contact,
		Code:      code,
		ExpiresAt: s.now().Add(OTPTTL),
	}
	if err := s.store.PutOTP(r.Context(), otp); err != nil {
		s.logger.Error("Failed to store OTP", "contact", contact, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, message("Could not issue OTP"))
		return
	}

	text := "Your Flight Hunter verification code is: " + code
	if err := s.notifier.SendToContact(r.Context(), contact, text); err != nil {
		s.logger.Warn("OTP SMS failed", "contact", contact, "error", err)
	} else {
		s.logger.Info("OTP sent", "contact", contact)
	}

	resp := map[string]string{"message": "OTP Sent"}
	if s.debugOTP {
		resp["debug_otp"] = code
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	contact := strings.TrimSpace(req.Contact)
	if contact == "" {
		s.writeJSON(w, http.StatusBadRequest, message("Contact is required"))
		return
	}

	stored, err := s.store.LoadOTP(r.Context(), contact)
	if err != nil && !s.isNotFound(err) {
		s.logger.Error("Failed to load OTP", "contact", contact, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, message("Could not verify OTP"))
		return
	}
	if err != nil || stored.Expired(s.now()) ||
		subtle.ConstantTimeCompare([]byte(stored.Code), []byte(strings.TrimSpace(req.OTP))) != 1 {
		s.logger.Info("OTP rejected", "contact", contact)
		s.writeJSON(w, http.StatusForbidden, message("Invalid or expired OTP."))
		return
	}

	if strings.TrimSpace(req.OriginSkyID) == "" || strings.TrimSpace(req.DestinationSkyID) == "" ||
		strings.TrimSpace(req.DepartureDate) == "" {
		s.writeJSON(w, http.StatusBadRequest, message("originSkyId, destinationSkyId and departureDate are required"))
		return
	}

	now := s.now()
	profile := &hunter.SearchProfile{
		ID:            s.newID(),
		Contact:       contact,
		Username:      orDefault(req.Username, hunter.DefaultUsername),
		Origin:        req.OriginSkyID,
		Destination:   req.DestinationSkyID,
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		CabinClass:    orDefault(req.CabinClass, hunter.DefaultCabinClass),
		Stops:         orDefault(req.Stops, hunter.DefaultStops),
		Notes:         req.Notes,
		Adults:        intOrDefault(req.Adults, 1),
		Children:      intOrDefault(req.Children, 0),
		Infants:       intOrDefault(req.Infants, 0),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.retention),
	}
	if err := s.store.Put(r.Context(), profile); err != nil {
		s.logger.Error("Failed to save search", "contact", contact, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, message("Could not save search"))
		return
	}

	if err := s.store.DeleteOTP(r.Context(), contact); err != nil {
		s.logger.Warn("Failed to delete used OTP", "contact", contact, "error", err)
	}

	s.logger.Info("OTP verified, search saved",
		"contact", contact,
		"id", profile.ID,
		"route", profile.Origin+"->"+profile.Destination)
	s.writeJSON(w, http.StatusOK, message("Verified! Search active."))
}

func (s *Server) handleScrapeOne(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	page, err := s.scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("Scrape failed", "url", req.URL, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"status":  "Error",
			"message": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleResolveEntity(w http.ResponseWriter, req *actionRequest) {
	// Unknown codes pass through unchanged as their own entity ID.
	id, known := s.resolver.Resolve(req.Query)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":     req.Query,
		"entity_id": id,
		"known":     known,
	})
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
