package api

import (
	"encoding/json"
	"net/http"

	"slotkeeper/internal/service"

	"github.com/julienschmidt/httprouter"
)

type updateProfileRequest struct {
	FullName    *string `json:"fullName"`
	ProfileSlug *string `json:"profileSlug"`
	TimeZone    *string `json:"timeZone"`
}

type reservedSlugsResponse struct {
	Slugs []string `json:"slugs"`
}

func (s *HTTPServer) handleReservedSlugs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, reservedSlugsResponse{Slugs: s.deps.Profiles.ReservedSlugs()})
}

func (s *HTTPServer) handleProfileBySlug(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	res, err := s.deps.Profiles.ResolveSlug(r.Context(), ps.ByName("slug"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	pro, err := s.deps.Profiles.GetProfile(r.Context(), owner(r))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pro)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.deps.Profiles.UpdateProfile(r.Context(), owner(r), service.ProfileChanges{
		FullName:    body.FullName,
		ProfileSlug: body.ProfileSlug,
		TimeZone:    body.TimeZone,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
