package api

import (
	"net/http"

	"github.com/hackgods/telehealth-consult/internal/profile"
)

type SignUpRequest struct {
	Role      string  `json:"role,omitempty"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
}

// signUp completes the profile the auth provider created. It answers 200
// even when syncing gave up; the body says whether it stuck.
func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := identity(r)
	// The role comes from the verified token; a body role may only repeat it.
	if req.Role != "" && Role(req.Role) != id.Role {
		writeError(w, http.StatusForbidden, "role_mismatch", "role must match the signed-in account")
		return
	}
	res, err := s.profiles.EnsureProfile(r.Context(), profile.SignUp{
		UserID:    id.UserID,
		Role:      profile.Role(id.Role),
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		Specialty: req.Specialty,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
