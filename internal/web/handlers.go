package web

import (
	"errors"
	"net/http"
	"strings"

	"hermes/internal/portal"
	"hermes/internal/roster"
	"hermes/internal/sendjob"
	"hermes/internal/session"
	logx "hermes/pkg/logx"
)

// maxUploadBytes bounds the multipart form, sheet included.
const maxUploadBytes = 10 << 20

type operatorHandler func(w http.ResponseWriter, r *http.Request, token string, op Operator)

// withOperator gates a handler on a live web session.
func (s *Server) withOperator(h operatorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(cookieName)
		if err != nil {
			s.begone(w, http.StatusForbidden, "You are not logged in.")
			return
		}
		op, ok := s.store.Get(c.Value)
		if !ok {
			s.begone(w, http.StatusForbidden, "Your session has expired. Log in again.")
			return
		}
		h(w, r, c.Value, op)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "index.html", struct{ Error string }{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		s.render(w, http.StatusBadRequest, "index.html", struct{ Error string }{Error: "Both fields are required."})
		return
	}

	creds := portal.EncodeCredentials(username, password)
	if err := s.deps.Portal.Login(r.Context(), creds); err != nil {
		if errors.Is(err, portal.ErrBadCredentials) {
			s.log.Warn("portal login rejected", logx.String("operator", username))
			s.render(w, http.StatusUnauthorized, "index.html", struct{ Error string }{Error: "Invalid username or password."})
			return
		}
		s.log.Error("portal login failed", logx.String("operator", username), logx.Err(err))
		s.begone(w, http.StatusBadGateway, "The portal did not answer. Try again later.")
		return
	}

	token := s.store.Create(&Operator{Username: username, Creds: creds})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.log.Info("operator logged in", logx.String("operator", username))
	s.notice(username + " logged in")
	http.Redirect(w, r, "/form", http.StatusSeeOther)
}

func (s *Server) handleForm(w http.ResponseWriter, r *http.Request, token string, op Operator) {
	s.renderForm(w, r, op, http.StatusOK, r.URL.Query().Get("msg"), "")
}

// renderForm rebuilds the input form, with an optional notice or
// validation error.
func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, op Operator, status int, notice, errMsg string) {
	events, err := s.deps.Portal.Events(r.Context(), op.Creds)
	if err != nil {
		s.log.Error("event listing failed", logx.String("operator", op.Username), logx.Err(err))
		s.begone(w, http.StatusBadGateway, "Could not load the event list.")
		return
	}
	s.render(w, status, "form.html", struct {
		Events []portal.Event
		Notice string
		Error  string
	}{Events: events, Notice: notice, Error: errMsg})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, token string, op Operator) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.begone(w, http.StatusBadRequest, "The submission could not be read.")
		return
	}

	content := r.FormValue("content")
	if strings.TrimSpace(content) == "" {
		s.begone(w, http.StatusBadRequest, "The message must not be empty.")
		return
	}

	ids := strings.TrimSpace(r.FormValue("ids"))
	if ids == "" {
		ids = "all"
	}
	if _, err := roster.ParseSelection(ids); err != nil {
		s.begone(w, http.StatusBadRequest, "Recipients must be \"all\" or a list of numeric ids.")
		return
	}

	var uploadPath string
	if f, _, err := r.FormFile("sheet"); err == nil {
		uploadPath, err = s.deps.Spool.Save(f, "upload-*.csv")
		f.Close()
		if err != nil {
			s.log.Error("sheet upload failed", logx.String("operator", op.Username), logx.Err(err))
			s.begone(w, http.StatusInternalServerError, "The sheet could not be stored.")
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) {
		s.begone(w, http.StatusBadRequest, "The sheet upload could not be read.")
		return
	}

	table := r.FormValue("table")
	if uploadPath == "" && table == "" {
		s.begone(w, http.StatusBadRequest, "Pick an event or upload a sheet.")
		return
	}

	s.store.Update(token, func(op *Operator) {
		op.Message = content
		op.Table = table
		op.Selection = ids
		op.UploadPath = uploadPath
	})

	s.render(w, http.StatusOK, "loading.html", nil)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request, token string, op Operator) {
	if op.Message == "" {
		s.begone(w, http.StatusBadRequest, "Nothing submitted yet.")
		return
	}

	_, qr, err := s.deps.Boot.Open(r.Context(), op.Username)
	if err != nil {
		s.log.Error("session open failed", logx.String("operator", op.Username), logx.Err(err))
		s.begone(w, http.StatusInternalServerError, "Could not start the browser session.")
		return
	}
	s.render(w, http.StatusOK, "qr.html", struct{ QR string }{QR: qr})
}

// handleSend blocks until the operator finishes the external login, then
// verifies the session and hands the batch to the background runner. The
// response returns as soon as the job is launched.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, token string, op Operator) {
	// Claim the submission before touching the session: a session handle
	// belongs to exactly one send job, so of any racing requests (double
	// click, duplicated redirect) only the claim winner proceeds.
	pending, ok := s.store.Claim(token)
	if !ok {
		s.begone(w, http.StatusConflict, "No send is pending. Submit the form first.")
		return
	}
	restore := func() {
		s.store.Update(token, func(o *Operator) {
			o.Message = pending.Message
			o.Table = pending.Table
			o.Selection = pending.Selection
			o.UploadPath = pending.UploadPath
		})
	}

	sess, err := s.deps.Registry.Lookup(op.Username)
	if err != nil {
		restore()
		s.begone(w, http.StatusConflict, "No active browser session. Start over.")
		return
	}

	if err := s.deps.Boot.AwaitLogin(r.Context(), sess); err != nil {
		if closeErr := sess.Close(); closeErr != nil {
			s.log.Warn("closing session after failed login", logx.String("operator", op.Username), logx.Err(closeErr))
		}
		s.deps.Registry.Remove(op.Username)

		if errors.Is(err, session.ErrLoginTimeout) {
			s.begone(w, http.StatusGatewayTimeout, "The login was not completed in time.")
			return
		}
		s.log.Warn("login wait aborted", logx.String("operator", op.Username), logx.Err(err))
		s.begone(w, http.StatusInternalServerError, "The login could not be completed.")
		return
	}

	if err := s.deps.Boot.VerifyTarget(r.Context(), sess); err != nil {
		// The session is already torn down; the submission survives so the
		// operator can scan again and retry.
		restore()
		s.log.Error("session verification failed", logx.String("operator", op.Username), logx.Err(err))
		s.renderForm(w, r, op, http.StatusUnprocessableEntity, "",
			"The verification number could not be reached. The session was closed; scan again to retry.")
		return
	}

	var src roster.Source
	if pending.UploadPath != "" {
		src = roster.Local{Path: pending.UploadPath}
	} else {
		src = roster.Remote{Portal: s.deps.Portal, Creds: op.Creds, Table: pending.Table}
	}
	sel, err := roster.ParseSelection(pending.Selection)
	if err != nil {
		// Validated at submit time; a failure here means the state was lost.
		s.begone(w, http.StatusBadRequest, "The submission is no longer valid. Start over.")
		return
	}

	job := sendjob.NewJob(op.Username, sess, src, sel, pending.Message, s.destination(sess))
	s.deps.Runner.Launch(s.deps.Sup, job)

	s.notice(op.Username + " started a send run (" + src.Describe() + ")")
	http.Redirect(w, r, "/form?msg=Sending+messages%21", http.StatusSeeOther)
}
