package notary

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/twitchtv/twirp"
)

// HandleRPC accepts signed transactions. Authentication is the request
// signature itself, so it runs outside the session middleware.
func (s *Server) HandleRPC() http.Handler {
	return http.HandlerFunc(s.handleTransaction)
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var in Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		renderErr(w, twirp.InvalidArgumentError("transaction", err.Error()))
		return
	}

	if len(in.Items) == 0 {
		renderErr(w, twirp.InvalidArgumentError("items", "empty transaction"))
		return
	}

	out, ok := s.notary.NotarizeTransaction(r.Context(), &in)
	if !ok {
		slog.Debug("rpc: transaction rejected",
			slog.String("type", string(in.Type)),
			slog.String("nym", in.NymID),
			slog.Int64("number", int64(in.Number)),
		)
	}

	renderJSON(w, out)
}
