package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"financas/internal/core"
	"financas/internal/goal"
	"financas/internal/ingest"
	"financas/internal/log"
	"financas/internal/session"
)

// handleUpload creates a session from an uploaded CSV table.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, name, err := ReadUpload(w, r, s.deps.MaxUploadBytes)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}

	txs, err := ingest.ReadCSV(bytes.NewReader(body))
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Upload rejected",
			log.FieldOperation, log.OpUpload,
			"error", err,
			"bytes", len(body))
		ErrorFor(r, err).Write(w)
		return
	}
	s.createSession(w, r, txs, "upload:"+name)
}

// handleImport creates a session from the configured transaction source.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Source == nil {
		ServiceUnavailableError(CodeUnavailable, "no transaction source configured").Write(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.ImportTimeout)
	defer cancel()
	txs, err := s.deps.Source.ReadTransactions(ctx)
	if err != nil {
		var parseErr *core.InputParseError
		if errors.As(err, &parseErr) {
			ErrorFor(r, err).Write(w)
			return
		}
		s.structured.LogError(r.Context(), "Transaction import failed", err,
			log.ComponentBackend, log.OpImport, log.NewFields().WithSource(s.deps.Source.Describe()))
		ErrorResponse(http.StatusBadGateway, CodeSourceUnavailable, "transaction source unavailable").Write(w)
		return
	}
	s.createSession(w, r, txs, s.deps.Source.Describe())
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request, txs []core.Transaction, source string) {
	sess, err := s.deps.Sessions.Create(txs, source)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	dto := newSessionDTO(sess, true)
	s.structured.LogSessionCreated(r.Context(), sess.ID, source, dto.Transactions, dto.Dates)

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/sessions/"+sess.ID).
		Body(dto).
		Write(w)
}

// session resolves the {id} route variable and renews the session's expiry.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.deps.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		ErrorFor(r, err).Write(w)
		return nil, false
	}
	s.deps.Sessions.Touch(sess)
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Body(newSessionDTO(sess, false)).Write(w)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.deps.Sessions.Get(id); err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	s.deps.Sessions.Delete(id)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Session deleted", log.FieldSessionID, id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Body(newTransactionDTOs(sess.Transactions())).Write(w)
}

func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Body(newEvolutionDTOs(sess.Evolution())).Write(w)
}

func (s *Server) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	NewJSONResponse().Body(newPivotDTO(sess.Pivot())).Write(w)
}

// handleDistribution reports each institution's share on ?date=, or on the
// latest date when the parameter is absent.
func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	pivot := sess.Pivot()

	d, given, err := ParseDateQuery(r.URL.Query(), "date")
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	if !given {
		if d, given = lastDate(pivot.Dates); !given {
			NewJSONResponse().Body(distributionDTO{Items: []shareDTO{}}).Write(w)
			return
		}
	}

	items, err := pivot.Distribution(d)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(newDistributionDTO(d, items)).Write(w)
}

func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	in, err := ParseGoalInput(r)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}

	state, err := sess.UpdateGoal(r.Context(), in)
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}
	s.structured.LogGoalUpdated(r.Context(), sess.ID, in.GoalStart.ISO(),
		state.Config.AnnualRate.String(), state.Rate.Source)
	if state.Rate.Error != "" {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Goal uses fallback rate",
			log.FieldSessionID, sess.ID,
			log.FieldAnnualRate, state.Config.AnnualRate.String(),
			"reason", state.Rate.Error)
	}
	NewJSONResponse().Body(newGoalDTO(sess.ID, state)).Write(w)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state, set := sess.Goal()
	if !set {
		NotFoundError(CodeGoalNotSet, "no goal configured for this session").Write(w)
		return
	}
	NewJSONResponse().Body(newGoalDTO(sess.ID, state)).Write(w)
}

// handleRates returns the rate in force on ?date=, or the whole schedule.
func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rates == nil {
		ServiceUnavailableError(CodeUnavailable, "rate lookup disabled").Write(w)
		return
	}

	d, given, err := ParseDateQuery(r.URL.Query(), "date")
	if err != nil {
		ErrorFor(r, err).Write(w)
		return
	}

	if !given {
		sched, err := s.deps.Rates.Schedule(r.Context())
		if err != nil {
			s.rateUnavailable(w, r, err)
			return
		}
		dto := rateScheduleDTO{
			Source:    string(sched.Source),
			FetchedAt: sched.FetchedAt,
			Records:   make([]rateRecordDTO, len(sched.Records)),
		}
		for i, rec := range sched.Records {
			dto.Records[i] = newRateRecordDTO(rec)
		}
		NewJSONResponse().Body(dto).Write(w)
		return
	}

	rec, src, err := s.deps.Rates.RateAt(r.Context(), d)
	if err != nil {
		if errors.Is(err, core.ErrNoApplicableRate) {
			ErrorFor(r, err).Write(w)
			return
		}
		s.rateUnavailable(w, r, err)
		return
	}
	monthly, err := goal.MonthlyRate(rec.AnnualRate)
	if err != nil {
		s.rateUnavailable(w, r, err)
		return
	}
	NewJSONResponse().Body(rateLookupDTO{
		Date:        d,
		AnnualRate:  rec.AnnualRate,
		MonthlyRate: monthly,
		Source:      string(src),
		Record:      newRateRecordDTO(rec),
	}).Write(w)
}

func (s *Server) rateUnavailable(w http.ResponseWriter, r *http.Request, err error) {
	s.structured.LogError(r.Context(), "Rate schedule unavailable", err,
		log.ComponentRates, log.OpLookup, nil)
	ErrorResponse(http.StatusBadGateway, CodeSourceUnavailable, "rate schedule unavailable").Write(w)
}
