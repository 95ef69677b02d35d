package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go.cloudsolutions.dev/jitaccess/internal/apierror"
	"go.cloudsolutions.dev/jitaccess/internal/auth"
	"go.cloudsolutions.dev/jitaccess/internal/catalog"
	"go.cloudsolutions.dev/jitaccess/internal/resource"
)

var activationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jitaccess_activations_total",
		Help: "Completed activations by type.",
	},
	[]string{"type"},
)

func (s *Server) handleAlive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// probeStatus is the externally visible slice of a probe result.
// Failure detail stays in the logs; it is not exposed to callers.
type probeStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	healthy, results := s.diagnostics.Run(r.Context())

	probes := make([]probeStatus, 0, len(results))
	for _, result := range results {
		probes = append(probes, probeStatus{
			Name:    result.Name,
			Healthy: result.Healthy,
		})
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"probes":  probes,
	})
}

type policyResponse struct {
	SignedInUser             string `json:"signedInUser"`
	JustificationHint        string `json:"justificationHint"`
	DefaultActivationTimeout int    `json:"defaultActivationTimeoutMinutes"`
	MaxActivationTimeout     int    `json:"maxActivationTimeoutMinutes"`
	MinReviewers             int    `json:"minNumberOfReviewers"`
	MaxReviewers             int    `json:"maxNumberOfReviewers"`
	MaxRolesPerSelfApproval  int    `json:"maxNumberOfRolesPerSelfApproval"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	options := s.catalog.Options()

	maxMinutes := int(options.ActivationTimeout.Minutes())
	defaultMinutes := maxMinutes
	if defaultMinutes > 60 {
		defaultMinutes = 60
	}

	s.writeJSON(w, http.StatusOK, policyResponse{
		SignedInUser:             principal(r.Context()).Email,
		JustificationHint:        s.activator.JustificationHint(),
		DefaultActivationTimeout: defaultMinutes,
		MaxActivationTimeout:     maxMinutes,
		MinReviewers:             options.MinReviewers,
		MaxReviewers:             options.MaxReviewers,
		MaxRolesPerSelfApproval:  options.MaxActivationsPerRequest,
	})
}

type projectsResponse struct {
	Projects []string `json:"projects"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.catalog.ListProjects(r.Context(), principal(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, string(project))
	}
	s.writeJSON(w, http.StatusOK, projectsResponse{Projects: ids})
}

type roleItem struct {
	Role           string `json:"role"`
	ActivationType string `json:"activationType"`
	Status         string `json:"status"`
}

type rolesResponse struct {
	Roles    []roleItem `json:"roles"`
	Warnings []string   `json:"warnings,omitempty"`
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	project := resource.ProjectID(chi.URLParam(r, "projectId"))

	set, err := s.catalog.ListEntitlements(r.Context(), principal(r.Context()), project)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	roles := make([]roleItem, 0, len(set.Available))
	for _, entitlement := range set.Available {
		roles = append(roles, roleItem{
			Role:           entitlement.ID.Role,
			ActivationType: entitlement.ActivationType.String(),
			Status:         entitlement.Status.String(),
		})
	}
	s.writeJSON(w, http.StatusOK, rolesResponse{
		Roles:    roles,
		Warnings: set.Warnings,
	})
}

type peersResponse struct {
	Peers []string `json:"peers"`
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" {
		s.writeError(w, r, apierror.InvalidArgument("a role is required").Err())
		return
	}

	project := resource.ProjectID(chi.URLParam(r, "projectId"))
	peers, err := s.catalog.ListReviewers(
		r.Context(),
		principal(r.Context()),
		resource.NewProjectRoleBinding(project, role))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	emails := make([]string, 0, len(peers))
	for _, peer := range peers {
		emails = append(emails, peer.Email)
	}
	s.writeJSON(w, http.StatusOK, peersResponse{Peers: emails})
}

type activationItem struct {
	RequestID string `json:"requestId"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func activationItems(request *catalog.ActivationRequest, status catalog.Status) []activationItem {
	items := make([]activationItem, 0, len(request.Entitlements))
	for _, entitlement := range request.Entitlements {
		items = append(items, activationItem{
			RequestID: request.ID,
			Role:      entitlement.Role,
			Status:    status.String(),
			StartTime: request.StartTime.UTC().Format(time.RFC3339),
			EndTime:   request.EndTime.UTC().Format(time.RFC3339),
		})
	}
	return items
}

type selfActivateRequest struct {
	Roles             []string `json:"roles"`
	Justification     string   `json:"justification"`
	ActivationTimeout int      `json:"activationTimeoutMinutes"`
}

type activationResponse struct {
	Beneficiary   string           `json:"beneficiary"`
	Justification string           `json:"justification"`
	Items         []activationItem `json:"items"`
}

func (s *Server) handleSelfActivate(w http.ResponseWriter, r *http.Request) {
	var body selfActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierror.InvalidArgument("the request body is malformed").Err())
		return
	}

	project := resource.ProjectID(chi.URLParam(r, "projectId"))
	bindings := make([]resource.ProjectRoleBinding, 0, len(body.Roles))
	for _, role := range body.Roles {
		bindings = append(bindings, resource.NewProjectRoleBinding(project, role))
	}

	user := principal(r.Context())
	request, err := s.activator.CreateJitRequest(
		user,
		bindings,
		body.Justification,
		time.Now(),
		time.Duration(body.ActivationTimeout)*time.Minute)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	activation, err := s.activator.Activate(r.Context(), request)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	activationsTotal.WithLabelValues(catalog.JIT.String()).Inc()

	s.writeJSON(w, http.StatusOK, activationResponse{
		Beneficiary:   user.Email,
		Justification: body.Justification,
		Items:         activationItems(activation.Request, catalog.StatusActive),
	})
}

type requestActivationRequest struct {
	Role              string   `json:"role"`
	Peers             []string `json:"peers"`
	Justification     string   `json:"justification"`
	ActivationTimeout int      `json:"activationTimeoutMinutes"`
}

func (s *Server) handleRequestActivation(w http.ResponseWriter, r *http.Request) {
	var body requestActivationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, r, apierror.InvalidArgument("the request body is malformed").Err())
		return
	}

	project := resource.ProjectID(chi.URLParam(r, "projectId"))
	reviewers := make([]auth.UserID, 0, len(body.Peers))
	for _, peer := range body.Peers {
		reviewers = append(reviewers, auth.UserID{Email: peer})
	}

	user := principal(r.Context())
	request, _, err := s.activator.CreateMpaRequest(
		r.Context(),
		user,
		[]resource.ProjectRoleBinding{resource.NewProjectRoleBinding(project, body.Role)},
		reviewers,
		body.Justification,
		time.Now(),
		time.Duration(body.ActivationTimeout)*time.Minute)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, activationResponse{
		Beneficiary:   user.Email,
		Justification: body.Justification,
		Items:         activationItems(request, catalog.StatusActivationPending),
	})
}

func activationToken(r *http.Request) (string, error) {
	obfuscated := r.URL.Query().Get("activation")
	if obfuscated == "" {
		return "", apierror.InvalidArgument("an activation token is required").Err()
	}
	return catalog.DeobfuscateToken(obfuscated), nil
}

func (s *Server) handleIntrospectActivation(w http.ResponseWriter, r *http.Request) {
	token, err := activationToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	request, err := s.activator.IntrospectMpaRequest(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, activationResponse{
		Beneficiary:   request.RequestingUser.Email,
		Justification: request.Justification,
		Items:         activationItems(request, catalog.StatusActivationPending),
	})
}

func (s *Server) handleApproveActivation(w http.ResponseWriter, r *http.Request) {
	token, err := activationToken(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	activation, err := s.activator.Approve(r.Context(), principal(r.Context()), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	activationsTotal.WithLabelValues(catalog.MPA.String()).Inc()

	s.writeJSON(w, http.StatusOK, activationResponse{
		Beneficiary:   activation.Request.RequestingUser.Email,
		Justification: activation.Request.Justification,
		Items:         activationItems(activation.Request, catalog.StatusActive),
	})
}
