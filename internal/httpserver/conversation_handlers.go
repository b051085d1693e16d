package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IreinStark/marketgo/internal/domain"
	"github.com/IreinStark/marketgo/internal/service"
)

type conversationCreateRequest struct {
	ParticipantIDs   []string          `json:"participantIds"`
	ParticipantNames map[string]string `json:"participantNames"`
	ProductID        *string           `json:"productId"`
	ProductTitle     *string           `json:"productTitle"`
}

func handleCreateConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		participants := make([]domain.Participant, 0, len(req.ParticipantIDs)+1)
		seen := map[string]struct{}{currentID.UserID: {}}
		participants = append(participants, domain.Participant{
			UserID:      currentID.UserID,
			DisplayName: currentID.DisplayName,
		})
		for _, pid := range req.ParticipantIDs {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			participants = append(participants, domain.Participant{
				UserID:      pid,
				DisplayName: req.ParticipantNames[pid],
			})
		}

		conv, err := convSvc.CreateConversation(r.Context(), service.ConversationCreateInput{
			Participants: participants,
			ProductID:    req.ProductID,
			ProductTitle: req.ProductTitle,
		})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		convs, err := convSvc.ListForUser(r.Context(), currentID.UserID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleGetConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		conv, err := convSvc.GetConversation(r.Context(), chi.URLParam(r, "conversationID"), currentID.UserID)
		if err != nil {
			writeJSON(w, statusForServiceError(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

type messageCreateRequest struct {
	Content  string  `json:"content"`
	Type     string  `json:"type"`
	PhotoURL *string `json:"photoUrl"`
}

func handleCreateMessage(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		msg, err := convSvc.SendMessage(r.Context(), service.MessageSendInput{
			ConversationID: chi.URLParam(r, "conversationID"),
			SenderID:       currentID.UserID,
			SenderName:     currentID.DisplayName,
			Content:        req.Content,
			Type:           req.Type,
			PhotoURL:       req.PhotoURL,
		})
		if err != nil {
			writeJSON(w, statusForServiceError(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func handleListMessages(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		msgs, err := convSvc.ListMessages(r.Context(), chi.URLParam(r, "conversationID"), currentID.UserID)
		if err != nil {
			writeJSON(w, statusForServiceError(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleMarkConversationRead(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentID, ok := CurrentIdentity(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		ids, err := convSvc.MarkMessagesAsRead(r.Context(), chi.URLParam(r, "conversationID"), currentID.UserID)
		if err != nil {
			writeJSON(w, statusForServiceError(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "messageIds": ids})
	}
}

func statusForServiceError(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrConversationNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
