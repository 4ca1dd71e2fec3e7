/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API
 * endpoints. Handlers parse incoming requests from the chat front-ends, call
 * the appropriate methods on the application service, and write the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/normalizer: Service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nimtipbot/settlement-service/internal/app"
	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/internal/normalizer"
	"github.com/nimtipbot/settlement-service/internal/store"
)

// SettlementHandlers holds the application collaborators that handlers use.
type SettlementHandlers struct {
	service   *app.Service
	directory *app.Directory
	repo      store.Repository
	network   string
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service, directory *app.Directory, repo store.Repository, network string) *SettlementHandlers {
	return &SettlementHandlers{service: service, directory: directory, repo: repo, network: network}
}

// commandRequest is the payload a chat front-end posts for every message that
// looks like a bot command. The idempotency key is the platform's message or
// comment id; redelivered webhooks therefore collapse to one ledger record.
type commandRequest struct {
	RawText        string             `json:"raw_text"`
	Subject        string             `json:"subject,omitempty"`
	SourceIdentity string             `json:"source_identity"`
	TargetIdentity string             `json:"target_identity,omitempty"`
	IdempotencyKey string             `json:"idempotency_key"`
	ReplyTarget    domain.ReplyTarget `json:"reply_target"`
}

// CommandHandler handles one raw chat command for the platform in the URL.
func (h *SettlementHandlers) CommandHandler(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload.")
		return
	}
	if req.SourceIdentity == "" || req.IdempotencyKey == "" {
		h.writeError(w, http.StatusBadRequest, "source_identity and idempotency_key are required.")
		return
	}
	if req.ReplyTarget.Platform == "" {
		req.ReplyTarget.Platform = platform
	}

	result, err := h.service.HandleCommand(r.Context(), platform, normalizer.Input{
		RawText:        req.RawText,
		Subject:        req.Subject,
		SourceIdentity: req.SourceIdentity,
		TargetIdentity: req.TargetIdentity,
		IdempotencyKey: req.IdempotencyKey,
		ReplyTarget:    req.ReplyTarget,
	})
	if err != nil {
		if errors.Is(err, app.ErrUnsupportedPlatform) {
			h.writeError(w, http.StatusBadRequest, "Unsupported platform.")
			return
		}
		log.Printf("level=error component=api msg=\"command handling failed\" platform=%s err=%v", platform, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to process command.")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

type balanceResponse struct {
	ExternalID   string      `json:"external_id"`
	ChainAddress string      `json:"chain_address"`
	BalanceLuna  domain.Luna `json:"balance_luna"`
	BalanceNIM   string      `json:"balance_nim"`
}

// BalanceHandler returns the custodial balance of a chat identity, creating
// the account on first sight.
func (h *SettlementHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing external id.")
		return
	}

	account, err := h.directory.GetOrCreate(r.Context(), externalID)
	if err != nil {
		log.Printf("level=error component=api msg=\"account lookup failed\" external_id=%s err=%v", externalID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve account.")
		return
	}
	balance := h.directory.BalanceOf(r.Context(), account)

	h.writeJSON(w, http.StatusOK, balanceResponse{
		ExternalID:   account.ExternalID,
		ChainAddress: account.ChainAddress,
		BalanceLuna:  balance,
		BalanceNIM:   domain.FormatNIM(balance),
	})
}

type depositResponse struct {
	ExternalID   string `json:"external_id"`
	ChainAddress string `json:"chain_address"`
	DepositLink  string `json:"deposit_link"`
}

// DepositHandler returns the deposit address and wallet deep link for a chat
// identity, creating the account on first sight.
func (h *SettlementHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing external id.")
		return
	}

	account, err := h.directory.GetOrCreate(r.Context(), externalID)
	if err != nil {
		log.Printf("level=error component=api msg=\"account lookup failed\" external_id=%s err=%v", externalID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve account.")
		return
	}

	h.writeJSON(w, http.StatusOK, depositResponse{
		ExternalID:   account.ExternalID,
		ChainAddress: account.ChainAddress,
		DepositLink:  app.DepositLink(account.ChainAddress, h.network),
	})
}

type statsResponse struct {
	LiveTransfers     int64 `json:"live_transfers"`
	ArchivedTransfers int64 `json:"archived_transfers"`
}

// StatsHandler reports ledger depth: how many transfers are awaiting
// settlement and how many have completed.
func (h *SettlementHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	live, err := h.repo.CountLiveTransfers(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"live count failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to read ledger stats.")
		return
	}
	archived, err := h.repo.CountArchivedTransfers(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"archive count failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to read ledger stats.")
		return
	}

	h.writeJSON(w, http.StatusOK, statsResponse{LiveTransfers: live, ArchivedTransfers: archived})
}

// writeJSON is a helper for writing JSON responses.
func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
