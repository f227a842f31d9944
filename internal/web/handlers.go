package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"benchlink/internal/dmm"
	"benchlink/internal/store"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.gw.Status()
	if err != nil {
		s.logger.Error("status", "err", err)
		s.writeError(w, http.StatusBadGateway, "instrument unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.gw.AllSettings()
	if err != nil {
		s.logger.Error("list settings", "err", err)
		s.writeError(w, http.StatusBadGateway, "instrument unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, err := s.gw.Setting(name)
	if err != nil {
		if errors.Is(err, dmm.ErrUnsupportedValue) {
			s.writeError(w, http.StatusNotFound, "unknown setting")
			return
		}
		s.logger.Error("get setting", "setting", name, "err", err)
		s.writeError(w, http.StatusBadGateway, "instrument unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"setting": name, "value": value})
}

type setSettingRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req setSettingRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.gw.ApplySetting(name, req.Value); err != nil {
		if errors.Is(err, dmm.ErrUnsupportedValue) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("set setting", "setting", name, "err", err)
		s.writeError(w, http.StatusBadGateway, "instrument unreachable")
		return
	}

	value, err := s.gw.Setting(name)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "instrument unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"setting": name, "value": value})
}

func (s *Server) handleMeasure(w http.ResponseWriter, r *http.Request) {
	reading, err := s.gw.Measure()
	if err != nil {
		s.logger.Error("measure", "err", err)
		s.writeError(w, http.StatusBadGateway, "measurement failed")
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	readings, err := s.gw.Readings(limit)
	if err != nil {
		s.logger.Error("list readings", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if readings == nil {
		readings = []*store.Reading{}
	}
	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleFetchBuffer(w http.ResponseWriter, r *http.Request) {
	values, err := s.gw.FetchBuffer()
	if err != nil {
		s.logger.Error("fetch buffer", "err", err)
		s.writeError(w, http.StatusBadGateway, "fetch failed")
		return
	}
	if values == nil {
		values = []float64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.gw.Store().ListProfiles()
	if err != nil {
		s.logger.Error("list profiles", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if profiles == nil {
		profiles = []*store.Profile{}
	}
	s.writeJSON(w, http.StatusOK, profiles)
}

type saveProfileRequest struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req saveProfileRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	profile, err := s.gw.SaveProfile(req.Name, req.Comment)
	if err != nil {
		s.logger.Error("save profile", "name", req.Name, "err", err)
		s.writeError(w, http.StatusBadGateway, "snapshot failed")
		return
	}
	s.writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	profile, err := s.gw.Store().GetProfile(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("get profile", "name", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gw.Store().DeleteProfile(name); err != nil {
		s.logger.Error("delete profile", "name", name, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gw.ApplyProfile(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error("apply profile", "name", name, "err", err)
		s.writeError(w, http.StatusBadGateway, "apply failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	if s.sequences == nil {
		s.writeError(w, http.StatusNotFound, "sequences disabled")
		return
	}
	scripts, err := s.sequences.List()
	if err != nil {
		s.logger.Error("list sequences", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleRunSequence(w http.ResponseWriter, r *http.Request) {
	if s.sequences == nil {
		s.writeError(w, http.StatusNotFound, "sequences disabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty script")
		return
	}
	result := s.sequences.Run(r.Context(), string(body))
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunNamedSequence(w http.ResponseWriter, r *http.Request) {
	if s.sequences == nil {
		s.writeError(w, http.StatusNotFound, "sequences disabled")
		return
	}
	id := r.PathValue("id")
	result, err := s.sequences.RunScript(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
