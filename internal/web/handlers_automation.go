package web

import (
	"errors"
	"net/http"

	"x10-go-home/internal/automation"
)

type saveAutomationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	LuaCode     string `json:"lua_code"`
	Enabled     bool   `json:"enabled"`
}

// scriptView is a stored script plus whether its VM is live.
type scriptView struct {
	*automation.Script
	Running bool `json:"running"`
}

type scriptHandler func(w http.ResponseWriter, r *http.Request, script *automation.Script)

func scriptStatus(err error) int {
	switch {
	case errors.Is(err, automation.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, automation.ErrInvalidScriptID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// automationsEnabled answers 503 when the server runs without automation.
func (s *Server) automationsEnabled(w http.ResponseWriter) bool {
	if s.scriptMgr == nil || s.autoEngine == nil {
		s.writeError(w, http.StatusServiceUnavailable, "automations not available")
		return false
	}
	return true
}

// withScript loads the script named by the {id} path value before calling fn.
func (s *Server) withScript(fn scriptHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.automationsEnabled(w) {
			return
		}
		script, err := s.scriptMgr.Get(r.PathValue("id"))
		if err != nil {
			s.writeError(w, scriptStatus(err), err.Error())
			return
		}
		fn(w, r, script)
	}
}

func (s *Server) view(script *automation.Script) scriptView {
	return scriptView{Script: script, Running: s.autoEngine.Running(script.ID)}
}

// saveAndApply persists script and brings the engine in line with it.
func (s *Server) saveAndApply(w http.ResponseWriter, script *automation.Script, status int) {
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("save script", "id", script.ID, "err", err)
		s.writeError(w, scriptStatus(err), "could not save script")
		return
	}
	if saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script", "id", saved.ID, "err", err)
		}
	} else {
		s.autoEngine.StopScript(saved.ID)
	}
	s.writeJSON(w, status, s.view(saved))
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	out := []scriptView{}
	if s.scriptMgr == nil || s.autoEngine == nil {
		s.writeJSON(w, http.StatusOK, out)
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	for _, sc := range scripts {
		out = append(out, s.view(sc))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request, script *automation.Script) {
	s.writeJSON(w, http.StatusOK, s.view(script))
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.saveAndApply(w, &automation.Script{
		Meta: automation.ScriptMeta{
			Name:        req.Name,
			Description: req.Description,
			Enabled:     req.Enabled,
		},
		LuaCode: req.LuaCode,
	}, http.StatusCreated)
}

// handleAPIUpdateAutomation replaces the body and metadata; an empty name
// keeps the current one.
func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request, script *automation.Script) {
	var req saveAutomationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Name != "" {
		script.Meta.Name = req.Name
	}
	script.Meta.Description = req.Description
	script.Meta.Enabled = req.Enabled
	script.LuaCode = req.LuaCode
	s.saveAndApply(w, script, http.StatusOK)
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request, script *automation.Script) {
	script.Meta.Enabled = !script.Meta.Enabled
	s.saveAndApply(w, script, http.StatusOK)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if err := s.scriptMgr.Delete(id); err != nil {
		s.writeError(w, scriptStatus(err), err.Error())
		return
	}
	s.autoEngine.StopScript(id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIRunAutomation runs a saved script once, or the lua_code in the
// body when the id is "_inline".
func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.automationsEnabled(w) {
		return
	}
	id := r.PathValue("id")
	if id != "_inline" {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
