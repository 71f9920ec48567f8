package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexjbarnes/idp-relay/internal/auth"
	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/metrics"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

// ManageMethods are the methods /api/manage answers.
var ManageMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// Management actions.
const (
	ActionCreateUser      = "createUser"
	ActionListUsers       = "listUsers"
	ActionGetUser         = "getUser"
	ActionUpdateUser      = "updateUser"
	ActionDeleteUser      = "deleteUser"
	ActionAssignRoles     = "assignRoles"
	ActionUnassignRoles   = "unassignRoles"
	ActionListUsersInRole = "listUsersInRole"
)

// ManageConfig controls the management proxy.
type ManageConfig struct {
	// AdminRole is the only role assignRoles and unassignRoles accept.
	AdminRole string
}

type manageRequest struct {
	Action   string          `json:"action"`
	UserID   string          `json:"userId"`
	UserData models.NewUser  `json:"userData"`
	Updates  map[string]any  `json:"updates"`
	Roles    json.RawMessage `json:"roles"`
	RoleName string          `json:"roleName"`
}

// actionResult is what an action hands back to the dispatcher.
type actionResult struct {
	status int
	body   json.RawMessage
}

type actionFunc func(ctx context.Context, req *manageRequest) (actionResult, error)

type manageHandler struct {
	provider idp.Provider
	cfg      ManageConfig
	logger   *slog.Logger
	actions  map[string]map[string]actionFunc
}

// HandleManage returns the /api/manage handler. The action comes from the
// "action" query parameter, or from the JSON body for methods that carry
// one. Provider answers are relayed verbatim.
func HandleManage(provider idp.Provider, cfg ManageConfig, logger *slog.Logger) http.HandlerFunc {
	h := &manageHandler{provider: provider, cfg: cfg, logger: logger}
	h.actions = map[string]map[string]actionFunc{
		http.MethodGet: {
			ActionListUsers:       h.listUsers,
			ActionGetUser:         h.getUser,
			ActionListUsersInRole: h.listUsersInRole,
		},
		http.MethodPost: {
			ActionCreateUser: h.createUser,
		},
		http.MethodPut: {
			ActionUpdateUser:    h.updateUser,
			ActionAssignRoles:   h.assignRoles,
			ActionUnassignRoles: h.unassignRoles,
		},
		http.MethodDelete: {
			ActionDeleteUser: h.deleteUser,
		},
	}

	return h.serveHTTP
}

func (h *manageHandler) serveHTTP(w http.ResponseWriter, r *http.Request) {
	table, ok := h.actions[r.Method]
	if !ok {
		methodNotAllowed(w, ManageMethods...)
		return
	}

	req, err := readManageRequest(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	action, ok := table[req.Action]
	if !ok {
		writeError(w, h.logger, r, invalid(apperrors.ErrInvalidAction, "Invalid action for %s request.", r.Method))
		return
	}

	res, err := action(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		metrics.ManageActions.WithLabelValues(req.Action, strconv.Itoa(status)).Inc()
		writeError(w, h.logger, r, err)

		return
	}

	metrics.ManageActions.WithLabelValues(req.Action, strconv.Itoa(res.status)).Inc()
	h.logger.Info("management action",
		slog.String("action", req.Action),
		slog.String("subject", auth.RequestSubject(r.Context())),
		slog.String("ip", auth.RequestRemoteIP(r.Context())),
		slog.Int("status", res.status),
	)

	writeRaw(w, res.status, res.body)
}

// readManageRequest merges the query string and, for methods with a body,
// the JSON document. Query parameters win.
func readManageRequest(r *http.Request) (*manageRequest, error) {
	var req manageRequest

	if r.Method != http.MethodGet {
		if err := decodeBody(r, &req, true); err != nil {
			return nil, err
		}
	}

	q := r.URL.Query()

	if v := q.Get("action"); v != "" {
		req.Action = v
	}

	if v := q.Get("userId"); v != "" {
		req.UserID = v
	}

	if v := q.Get("roleName"); v != "" {
		req.RoleName = v
	}

	return &req, nil
}

func (h *manageHandler) validUserID(id string) error {
	if id == "" {
		return invalid(apperrors.ErrInvalidRequest, "userId is required")
	}

	return h.provider.ValidateUserID(id)
}

func (h *manageHandler) createUser(ctx context.Context, req *manageRequest) (actionResult, error) {
	if err := validateNewUserCredentials(req.UserData.Email, req.UserData.Password); err != nil {
		return actionResult{}, err
	}

	raw, err := h.provider.CreateUser(ctx, req.UserData)
	if err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusCreated, body: raw}, nil
}

func (h *manageHandler) listUsers(ctx context.Context, _ *manageRequest) (actionResult, error) {
	raw, err := h.provider.ListUsers(ctx)
	if err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusOK, body: raw}, nil
}

func (h *manageHandler) getUser(ctx context.Context, req *manageRequest) (actionResult, error) {
	if err := h.validUserID(req.UserID); err != nil {
		return actionResult{}, err
	}

	raw, err := h.provider.GetUser(ctx, req.UserID)
	if err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusOK, body: raw}, nil
}

func (h *manageHandler) updateUser(ctx context.Context, req *manageRequest) (actionResult, error) {
	if err := h.validUserID(req.UserID); err != nil {
		return actionResult{}, err
	}

	if err := validateUpdates(req.Updates); err != nil {
		return actionResult{}, err
	}

	raw, err := h.provider.UpdateUser(ctx, req.UserID, req.Updates)
	if err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusOK, body: raw}, nil
}

func (h *manageHandler) deleteUser(ctx context.Context, req *manageRequest) (actionResult, error) {
	if err := h.validUserID(req.UserID); err != nil {
		return actionResult{}, err
	}

	if err := h.provider.DeleteUser(ctx, req.UserID); err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusNoContent}, nil
}

func (h *manageHandler) assignRoles(ctx context.Context, req *manageRequest) (actionResult, error) {
	return h.changeRoles(ctx, req, h.provider.AssignRole)
}

func (h *manageHandler) unassignRoles(ctx context.Context, req *manageRequest) (actionResult, error) {
	return h.changeRoles(ctx, req, h.provider.UnassignRole)
}

// changeRoles validates everything before the first provider call, then
// resolves each role and applies change.
func (h *manageHandler) changeRoles(ctx context.Context, req *manageRequest, change func(ctx context.Context, userID, roleID string) error) (actionResult, error) {
	if err := h.validUserID(req.UserID); err != nil {
		return actionResult{}, err
	}

	roles, err := parseRoles(req.Roles, h.cfg.AdminRole)
	if err != nil {
		return actionResult{}, err
	}

	for _, name := range roles {
		roleID, err := h.provider.ResolveRoleID(ctx, name)
		if err != nil {
			return actionResult{}, err
		}

		if err := change(ctx, req.UserID, roleID); err != nil {
			return actionResult{}, err
		}
	}

	return actionResult{status: http.StatusNoContent}, nil
}

func (h *manageHandler) listUsersInRole(ctx context.Context, req *manageRequest) (actionResult, error) {
	if req.RoleName == "" {
		return actionResult{}, invalid(apperrors.ErrInvalidRequest, "roleName is required")
	}

	roleID, err := h.provider.ResolveRoleID(ctx, req.RoleName)
	if err != nil {
		return actionResult{}, err
	}

	raw, err := h.provider.ListUsersInRole(ctx, roleID)
	if err != nil {
		return actionResult{}, err
	}

	return actionResult{status: http.StatusOK, body: raw}, nil
}
