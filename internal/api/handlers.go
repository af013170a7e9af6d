package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gwi.com/apex-chat/internal/auth"
	"gwi.com/apex-chat/internal/core"
	"gwi.com/apex-chat/internal/store"
)

const maxBodyBytes = 1 << 20

type APIHandler struct {
	chatService *core.ChatService
	userService *core.UserService
	// verifier is nil when requests are not authenticated.
	verifier auth.Verifier
}

func NewAPIHandler(cs *core.ChatService, us *core.UserService, verifier auth.Verifier) *APIHandler {
	return &APIHandler{chatService: cs, userService: us, verifier: verifier}
}

type ListChatsResponse struct {
	Chats []store.Thread `json:"chats"`
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := authorize(r, userID); err != nil {
		writeError(w, r, err, "", "")
		return
	}

	chats, err := h.chatService.ListThreads(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "", "Failed to fetch chat history")
		return
	}
	writeJSON(w, http.StatusOK, ListChatsResponse{Chats: chats})
}

func (h *APIHandler) GetThreadHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")

	thread, err := h.chatService.GetThread(r.Context(), chatID)
	if err != nil {
		writeError(w, r, err, "Chat not found", "Failed to fetch chat thread")
		return
	}
	if err := authorize(r, thread.UserID); err != nil {
		writeError(w, r, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

type PostMessageRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
	ChatID  string `json:"chatId,omitempty"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, "", "")
		return
	}
	if req.UserID != "" {
		if err := authorize(r, req.UserID); err != nil {
			writeError(w, r, err, "", "")
			return
		}
	}

	res, err := h.chatService.PostMessage(r.Context(), core.PostMessageRequest{
		UserID:  req.UserID,
		Message: req.Message,
		ChatID:  req.ChatID,
	})
	if err != nil {
		writeError(w, r, err, "Chat not found", "Failed to process chat")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type CreateUserRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

func (h *APIHandler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, "", "")
		return
	}
	if req.UserID != "" {
		if err := authorize(r, req.UserID); err != nil {
			writeError(w, r, err, "", "")
			return
		}
	}

	user, err := h.userService.CreateUser(r.Context(), store.User{
		UserID:    req.UserID,
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, err, "", "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := authorize(r, userID); err != nil {
		writeError(w, r, err, "", "")
		return
	}

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "User not found", "Failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type UpdateUserRequest struct {
	Username  *string `json:"username"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

func (h *APIHandler) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if err := authorize(r, userID); err != nil {
		writeError(w, r, err, "", "")
		return
	}
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err, "", "")
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, core.ProfileUpdate{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, err, "User not found", "Failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// authorize rejects a request whose verified identity is not userID.
// Unauthenticated deployments carry no identity and pass.
func authorize(r *http.Request, userID string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == userID {
		return nil
	}
	return fmt.Errorf("%w: authenticated as a different user", core.ErrForbidden)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err)
	}
	return nil
}
