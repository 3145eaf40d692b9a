package notary

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"github.com/twitchtv/twirp"
)

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)

	m.Post("/nyms", s.registerNym)
	m.Post("/sessions", s.createSession)
	m.Post("/transactions", s.HandleRPC().ServeHTTP)

	m.Group(func(r chi.Router) {
		r.Use(s.handleAuth())

		r.Post("/numbers", s.requestNumbers)
		r.Post("/accounts", s.createAccount)
		r.Get("/accounts/{id}", s.findAccount)
		r.Get("/accounts/{id}/{ledger}", s.listLedger)
		r.Post("/accounts/{id}/issue", s.issue)
		r.Get("/nymbox", s.listNymbox)
		r.Get("/context", s.findContext)
		r.Get("/units/{id}", s.findUnit)
		r.Get("/cron/{number}", s.findCronItem)
	})

	return m
}

func renderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	_ = twirp.WriteError(w, twirpError(err))
}

// twirpError maps notary failures onto twirp codes.
func twirpError(err error) error {
	var te twirp.Error
	if errors.As(err, &te) {
		return te
	}

	if errors.Is(err, ErrNotFound) {
		return twirp.NotFound.Error("not found")
	}

	var f *Failure
	if !errors.As(err, &f) {
		slog.Error("api: internal error", slog.Any("err", err))
		return twirp.InternalErrorWith(err)
	}

	var code twirp.ErrorCode
	switch f.Kind {
	case ValidationFailure:
		code = twirp.InvalidArgument
	case BusinessRuleFailure:
		code = twirp.FailedPrecondition
	case IntegrityFailure:
		code = twirp.DataLoss
	default:
		code = twirp.Internal
	}

	return twirp.NewError(code, f.Msg).WithMeta("reason", string(f.Reason))
}

func (s *Server) registerNym(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PublicKey string `json:"public_key"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	if !govalidator.IsHexadecimal(body.PublicKey) {
		renderErr(w, twirp.InvalidArgumentError("public_key", "invalid hex"))
		return
	}

	pub, _ := hex.DecodeString(body.PublicKey)
	if len(pub) != 32 {
		renderErr(w, twirp.InvalidArgumentError("public_key", "must be 32 bytes"))
		return
	}

	nym, err := s.notary.RegisterNym(r.Context(), pub)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, nym)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NymID     string `json:"nym_id"`
		Timestamp int64  `json:"timestamp"`
		Signature string `json:"signature"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	token, err := s.issueToken(body.NymID, time.Unix(body.Timestamp, 0), body.Signature)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, map[string]string{"token": token})
}

func (s *Server) requestNumbers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("unauthenticated"))
		return
	}

	count := cast.ToInt(r.URL.Query().Get("count"))
	if count == 0 {
		count = 10
	}

	item, err := s.notary.RequestNumbers(ctx, nym.ID, count)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, item)
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("unauthenticated"))
		return
	}

	var body struct {
		UnitID string `json:"unit_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	account, err := s.notary.CreateAccount(ctx, nym.ID, body.UnitID)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, account)
}

// ownAccount loads an account of the authenticated nym.
func (s *Server) ownAccount(r *http.Request) (*Account, error) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok {
		return nil, twirp.Unauthenticated.Error("unauthenticated")
	}

	id := chi.URLParam(r, "id")
	if !govalidator.IsUUID(id) {
		return nil, twirp.InvalidArgumentError("id", "invalid account id")
	}

	account, err := s.notary.Account(ctx, id)
	if err != nil {
		return nil, err
	}

	if account.NymID != nym.ID {
		slog.Warn("account not owned by nym", "account", id, "nym", nym.ID)
		return nil, twirp.PermissionDenied.Error("permission denied")
	}

	return account, nil
}

func (s *Server) findAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.ownAccount(r)
	if err != nil {
		renderErr(w, err)
		return
	}

	unit, err := s.notary.Unit(r.Context(), account.UnitID)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, struct {
		*Account
		Display string `json:"display"`
	}{account, unit.Display(account.Balance)})
}

// issue is reserved for the server nym.
func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok || nym.ID != s.notary.ServerNymID() {
		renderErr(w, twirp.PermissionDenied.Error("permission denied"))
		return
	}

	var body struct {
		Amount int64 `json:"amount"`
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErr(w, twirp.InvalidArgumentError("body", err.Error()))
		return
	}

	receipt, err := s.notary.Issue(ctx, chi.URLParam(r, "id"), body.Amount)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, receipt)
}

func (s *Server) listLedger(w http.ResponseWriter, r *http.Request) {
	account, err := s.ownAccount(r)
	if err != nil {
		renderErr(w, err)
		return
	}

	var kind LedgerKind
	switch chi.URLParam(r, "ledger") {
	case "inbox":
		kind = Inbox
	case "outbox":
		kind = Outbox
	default:
		renderErr(w, twirp.NotFound.Error("no such ledger"))
		return
	}

	s.renderLedger(w, r, account.ID, kind)
}

func (s *Server) listNymbox(w http.ResponseWriter, r *http.Request) {
	nym, ok := NymFrom(r.Context())
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("unauthenticated"))
		return
	}

	s.renderLedger(w, r, nym.ID, Nymbox)
}

// renderLedger pages through a ledger by record number.
func (s *Server) renderLedger(w http.ResponseWriter, r *http.Request, owner string, kind LedgerKind) {
	q := r.URL.Query()
	offset := TxNumber(cast.ToInt64(q.Get("offset")))
	limit := cast.ToInt(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	l, err := s.notary.Ledger(r.Context(), owner, kind)
	if err != nil {
		renderErr(w, err)
		return
	}

	items := make([]*LedgerItem, 0, limit)
	for _, item := range l.Items {
		if item.Number <= offset {
			continue
		}

		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}

	renderJSON(w, map[string]interface{}{
		"count": l.Count(),
		"items": items,
	})
}

func (s *Server) findContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("unauthenticated"))
		return
	}

	c, err := s.notary.ClientContext(ctx, nym.ID)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, c)
}

func (s *Server) findUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := s.notary.Unit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, unit)
}

func (s *Server) findCronItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nym, ok := NymFrom(ctx)
	if !ok {
		renderErr(w, twirp.Unauthenticated.Error("unauthenticated"))
		return
	}

	number := TxNumber(cast.ToInt64(chi.URLParam(r, "number")))
	rec, err := s.notary.CronRecord(ctx, number)
	if err != nil {
		renderErr(w, err)
		return
	}

	if !govalidator.IsIn(nym.ID, rec.Nyms...) {
		renderErr(w, twirp.PermissionDenied.Error("permission denied"))
		return
	}

	renderJSON(w, rec)
}
