package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/bizflow/internal/model"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------- audit ----------

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	entries, err := s.app.Audit.List(r.Context(), f)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func auditFilter(r *http.Request) (model.AuditFilter, error) {
	q := r.URL.Query()
	f := model.AuditFilter{
		TypeID: q.Get("type"),
		Actor:  q.Get("actor"),
	}
	if v := q.Get("operation"); v != "" {
		op, err := model.ParseOperation(v)
		if err != nil {
			return f, err
		}
		f.Operation = op
	}
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) auditEntry(w http.ResponseWriter, r *http.Request) (*model.AuditEntry, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be an integer", nil)
		return nil, false
	}
	e, err := s.app.Audit.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return e, true
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	if e, ok := s.auditEntry(w, r); ok {
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) auditTarget(w http.ResponseWriter, r *http.Request) {
	e, ok := s.auditEntry(w, r)
	if !ok {
		return
	}
	rec := s.app.Audit.ResolveTarget(r.Context(), e)
	if rec == nil {
		writeError(w, http.StatusNotFound, "target_unresolved", "audit target no longer exists", map[string]string{"target": e.Target.String()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ---------- entities ----------

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	typeID := chi.URLParam(r, "type")
	if _, err := s.app.Registry.Resolve(typeID); err != nil {
		writeErr(w, err)
		return
	}
	recs, err := s.app.Store.ListEntities(r.Context(), typeID)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]*model.Record, 0, len(recs))
	for _, rec := range recs {
		full, err := s.app.Repo.Get(r.Context(), typeID, rec.PK)
		if err != nil {
			writeErr(w, err)
			return
		}
		out = append(out, full)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	rec, err := s.app.Repo.Get(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "pk"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decodeBody(r, &values); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object", nil)
		return
	}
	rec, err := s.app.Repo.Create(r.Context(), chi.URLParam(r, "type"), values)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) updateEntity(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if err := decodeBody(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON object", nil)
		return
	}
	rec, err := s.app.Repo.Update(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "pk"), changes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Repo.Delete(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "pk")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- sessions ----------

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key  string `json:"key"`
		User string `json:"user"`
	}
	if err := decodeBody(r, &req); err != nil || req.Key == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key and user are required", nil)
		return
	}
	rec, err := s.app.Repo.Login(r.Context(), req.Key, req.User)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Repo.Logout(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------- rules ----------

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.app.Store.ListRules(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if rules == nil {
		rules = []model.AutomationRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

type triggerResponse struct {
	Rule      string          `json:"rule"`
	Entity    model.EntityRef `json:"entity"`
	FlowToken string          `json:"flow_token"`
	Fired     bool            `json:"fired"`
	Actions   int             `json:"actions"`
	Errors    []string        `json:"errors"`
}

// triggerRule is the ON_TIME / ON_WEBHOOK entry point.
func (s *Server) triggerRule(w http.ResponseWriter, r *http.Request) {
	var ref model.EntityRef
	if err := decodeBody(r, &ref); err != nil || ref.Type == "" || ref.PK == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "type and pk are required", nil)
		return
	}
	firing, err := s.app.Engine.RunRule(r.Context(), chi.URLParam(r, "name"), ref)
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := triggerResponse{
		Rule:      firing.Rule,
		Entity:    firing.Entity,
		FlowToken: firing.FlowToken,
		Fired:     firing.Fired,
		Actions:   firing.Actions,
		Errors:    []string{},
	}
	for _, e := range firing.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}
