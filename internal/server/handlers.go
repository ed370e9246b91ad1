package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chamikara/helachat/internal/data"
	"github.com/chamikara/helachat/internal/dispatch"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/whatsapp"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ═══════════════════════════════════════════════════════════════════════════
// Webhook
// ═══════════════════════════════════════════════════════════════════════════

// handleWebhookVerify answers Meta's subscription handshake.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := whatsapp.VerifyToken(
		q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"),
		s.cfg.WhatsApp.VerifyToken)
	if err != nil {
		s.log.Warn("webhook verification rejected: %v", err)
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// handleWebhookPost ingests a message delivery. The webhook always gets a
// 200 for payloads we can parse, even when processing is skipped, so Meta
// does not retry endlessly.
func (s *Server) handleWebhookPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	if err := whatsapp.ValidateSignature(body, r.Header.Get("X-Hub-Signature-256"), s.cfg.WhatsApp.AppSecret); err != nil {
		s.log.Warn("webhook signature rejected: %v", err)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	inbound, err := whatsapp.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if inbound == nil {
		// Status-only notification
		w.WriteHeader(http.StatusOK)
		return
	}

	biz, err := s.store.GetBusinessByPhoneNumber(r.Context(), inbound.PhoneNumberID)
	if errors.Is(err, data.ErrNotFound) && inbound.DisplayPhoneNumber != "" {
		biz, err = s.store.GetBusinessByPhoneNumber(r.Context(), inbound.DisplayPhoneNumber)
	}
	if err != nil {
		s.log.Warn("webhook for unknown number %s: %v", inbound.PhoneNumberID, err)
		// Acknowledge anyway; retrying will not help
		w.WriteHeader(http.StatusOK)
		return
	}

	msgID, err := s.store.CreateMessage(r.Context(), &data.Message{
		BusinessID:        biz.ID,
		WhatsAppMessageID: inbound.MessageID,
		Direction:         data.DirectionInbound,
		Content:           inbound.Text,
		ContentType:       inbound.ContentType,
		SenderPhone:       inbound.From,
		SenderName:        inbound.SenderName,
		Status:            data.StatusReceived,
	})
	if err != nil {
		s.log.Error("store inbound message: %v", err)
		writeError(w, http.StatusInternalServerError, "store message")
		return
	}

	if err := s.queue.Enqueue(dispatch.Task{
		MessageID:   msgID,
		BusinessID:  biz.ID,
		Content:     inbound.Text,
		SenderPhone: inbound.From,
	}); err != nil {
		// Message stays in received; a webhook redelivery can re-enqueue it
		s.log.Error("enqueue message %d: %v", msgID, err)
	}

	w.WriteHeader(http.StatusOK)
}

// ═══════════════════════════════════════════════════════════════════════════
// Admin API
// ═══════════════════════════════════════════════════════════════════════════

type testMessageRequest struct {
	BusinessID  int64  `json:"business_id"`
	Message     string `json:"message"`
	SenderPhone string `json:"sender_phone"`
}

// handleTestMessage runs the pipeline synchronously without touching
// WhatsApp, so operators can try the agent from the dashboard.
func (s *Server) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BusinessID == 0 || req.Message == "" {
		writeError(w, http.StatusBadRequest, "business_id and message are required")
		return
	}

	result, err := s.responder.ProcessMessage(r.Context(), req.Message, req.BusinessID, req.SenderPhone)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type reloadKnowledgeRequest struct {
	BusinessID int64 `json:"business_id"`
}

// handleReloadKnowledge queues a background index rebuild for one tenant.
func (s *Server) handleReloadKnowledge(w http.ResponseWriter, r *http.Request) {
	var req reloadKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BusinessID == 0 {
		writeError(w, http.StatusBadRequest, "business_id is required")
		return
	}

	if _, err := s.store.GetBusiness(r.Context(), req.BusinessID); err != nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}

	if err := s.queue.EnqueueRebuild(req.BusinessID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue full, try again later")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "queued",
		"business_id": req.BusinessID,
	})
}

type refreshSheetsRequest struct {
	BusinessID int64 `json:"business_id"`
}

type sheetSyncResult struct {
	Name    string `json:"name"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Error   string `json:"error,omitempty"`
}

// handleRefreshSheets refetches every active sheet connection of a tenant and
// records the sync outcome on each connection row. One failing sheet does not
// stop the rest.
func (s *Server) handleRefreshSheets(w http.ResponseWriter, r *http.Request) {
	var req refreshSheetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BusinessID == 0 {
		writeError(w, http.StatusBadRequest, "business_id is required")
		return
	}

	if _, err := s.store.GetBusiness(r.Context(), req.BusinessID); err != nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}

	conns, err := s.store.ListSheetConnections(r.Context(), req.BusinessID, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sheet connections")
		return
	}

	results := make([]sheetSyncResult, 0, len(conns))
	for _, conn := range conns {
		rows, cols, err := s.sheets.Refresh(r.Context(), sheets.Connection{
			Name:     conn.Name,
			SheetID:  conn.SheetID,
			CacheTTL: time.Duration(conn.CacheTTLMinutes) * time.Minute,
		})

		syncErr := ""
		if err != nil {
			syncErr = err.Error()
			s.log.Warn("refresh sheet %q for business %d: %v", conn.Name, req.BusinessID, err)
		}
		if uerr := s.store.UpdateSheetSyncStatus(r.Context(), conn.ID, rows, cols, syncErr); uerr != nil {
			s.log.Error("record sync status for sheet %q: %v", conn.Name, uerr)
		}

		results = append(results, sheetSyncResult{
			Name: conn.Name, Rows: rows, Columns: cols, Error: syncErr,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"business_id": req.BusinessID,
		"connections": results,
	})
}

type sheetPreviewRequest struct {
	SheetURL string `json:"sheet_url"`
	Rows     int    `json:"rows"`
}

// handleSheetPreview fetches the head of a sheet so an operator can check
// the columns before saving a connection.
func (s *Server) handleSheetPreview(w http.ResponseWriter, r *http.Request) {
	var req sheetPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SheetURL == "" {
		writeError(w, http.StatusBadRequest, "sheet_url is required")
		return
	}

	sheetID, err := sheets.ExtractSheetID(req.SheetURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sheet url")
		return
	}

	n := req.Rows
	if n <= 0 || n > 50 {
		n = 10
	}

	res, err := s.sheets.Preview(r.Context(), sheets.Connection{SheetID: sheetID}, n)
	if errors.Is(err, sheets.ErrNotPublic) {
		writeError(w, http.StatusBadRequest, "sheet is not publicly accessible")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch sheet")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns":    res.Columns,
		"rows":       res.Rows,
		"total_rows": res.TotalRows,
	})
}

type testSheetRequest struct {
	SheetURL string `json:"sheet_url"`
}

// handleTestSheet verifies a sharing URL points to a publicly readable sheet.
func (s *Server) handleTestSheet(w http.ResponseWriter, r *http.Request) {
	var req testSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SheetURL == "" {
		writeError(w, http.StatusBadRequest, "sheet_url is required")
		return
	}

	if err := s.sheets.TestConnection(r.Context(), req.SheetURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgentStatus reports the health of the pipeline's collaborators.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"provider":           s.provider.Name(),
		"provider_available": s.provider.Available(),
		"queue_depth":        s.queue.QueueDepth(),
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
	}
	if s.index != nil {
		status["indexed_businesses"] = s.index.BusinessCount()
	}

	writeJSON(w, http.StatusOK, status)
}

// ═══════════════════════════════════════════════════════════════════════════
// Dashboard queries, health, metrics
// ═══════════════════════════════════════════════════════════════════════════

// handleRecentMessages returns a tenant's latest messages.
func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	businessID, err := strconv.ParseInt(chi.URLParam(r, "businessID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid business id")
		return
	}

	limit := 50
	if n := r.URL.Query().Get("limit"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	messages, err := s.store.RecentMessages(r.Context(), businessID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query messages")
		return
	}
	if messages == nil {
		messages = []*data.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}
