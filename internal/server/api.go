package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/codezoo/codezoo/internal/auth"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/store"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || slugPattern.MatchString(s)
	})
	return v
}

// compileRequest is the body of POST /api/compile.
type compileRequest struct {
	HTML          string        `json:"html" validate:"max=262144"`
	CSS           string        `json:"css" validate:"max=262144"`
	JS            string        `json:"js" validate:"max=262144"`
	Preprocessors pen.Selection `json:"preprocessors"`
}

// compileResponse adds the assembled preview document to a compile result.
type compileResponse struct {
	pen.Result
	Document string `json:"document"`
}

// revisionRequest is the body of POST /api/pens/{penID}/revisions.
type revisionRequest struct {
	HTML          string           `json:"html" validate:"max=262144"`
	CSS           string           `json:"css" validate:"max=262144"`
	JS            string           `json:"js" validate:"max=262144"`
	Preprocessors pen.Selection    `json:"preprocessors"`
	Kind          pen.RevisionKind `json:"kind,omitempty" validate:"omitempty,oneof=SNAPSHOT AUTOSAVE"`
}

// penUpdateRequest is the body of PATCH /api/pens/{penID}.
type penUpdateRequest struct {
	Title      *string         `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Slug       *string         `json:"slug,omitempty" validate:"omitempty,max=100,slug"`
	Visibility *pen.Visibility `json:"visibility,omitempty" validate:"omitempty,oneof=PRIVATE UNLISTED PUBLIC"`
}

func (s *Server) handleListPens(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	pens, err := s.store.ListPens(r.Context(), u.ID)
	if err != nil {
		s.internalError(w, "list pens", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pens": pens})
}

func (s *Server) handleCreatePen(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.CreatePen(r.Context(), u.ID)
	if err != nil {
		s.internalError(w, "create pen", err)
		return
	}
	w.Header().Set("Location", "/api/pens/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPen(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.PenForEditor(r.Context(), u.ID, r.PathValue("penID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pen not found")
		return
	}
	if err != nil {
		s.internalError(w, "get pen", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePen(w http.ResponseWriter, r *http.Request) {
	var req penUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.UpdatePen(r.Context(), u.ID, r.PathValue("penID"), store.PenUpdate{
		Title:      req.Title,
		Slug:       req.Slug,
		Visibility: req.Visibility,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "pen not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "slug is already taken")
	case err != nil:
		s.internalError(w, "update pen", err)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleDeletePen(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	penID := r.PathValue("penID")
	err := s.store.DeletePen(r.Context(), u.ID, penID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pen not found")
		return
	}
	if err != nil {
		s.internalError(w, "delete pen", err)
		return
	}
	s.previews.Delete(u.ID, penID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveRevision(w http.ResponseWriter, r *http.Request) {
	var req revisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sel := req.Preprocessors.Normalize()
	if err := sel.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.SaveRevision(r.Context(), u.ID, pen.RevisionInput{
		PenID:         r.PathValue("penID"),
		HTML:          req.HTML,
		CSS:           req.CSS,
		JS:            req.JS,
		Preprocessors: sel,
		Kind:          req.Kind,
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pen not found")
		return
	}
	if err != nil {
		s.internalError(w, "save revision", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleCompile compiles sources without touching any pen. Missing
// preprocessors default to none.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if !s.decode(w, r, &req) {
		return
	}
	sel := req.Preprocessors.Normalize()
	if err := sel.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.compiler.Compile(r.Context(), pen.Sources{HTML: req.HTML, CSS: req.CSS, JS: req.JS}, sel)
	if err != nil {
		// Only a cancelled request context ends a compile early.
		return
	}
	if res.Errors == nil {
		res.Errors = []pen.CompileError{}
	}
	writeJSON(w, http.StatusOK, compileResponse{
		Result:   res,
		Document: preview.Document(res.HTML, res.CSS, res.JS),
	})
}

// decode reads a JSON body into v and validates it, writing a 400 or 413
// response and returning false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email address")
		case "slug":
			msgs = append(msgs, fe.Field()+" may only contain lowercase letters, digits and single dashes")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[API] Failed to %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Pen sources are markup; keep them readable on the wire.
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
