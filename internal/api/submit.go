package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/romashka-btc/espresso-sequencer/internal/app"
	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
)

const maxSubmitBody = 1 << 20

type submitResponse struct {
	Hash string `json:"hash"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) { // A
	app.WriteJSON(w, status, errorResponse{Error: err.Error()})
}

// SubmitModule serves POST /submit. The body is a JSON transaction with a
// base64 payload; the response carries the transaction's commitment.
func SubmitModule(s Submitter, log *slog.Logger) http.Handler { // A
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) > maxSubmitBody {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("transaction too large"))
			return
		}

		var tx consensus.Transaction
		if err := json.Unmarshal(body, &tx); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := s.SubmitTransaction(r.Context(), tx); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, consensus.ErrStopped) {
				status = http.StatusServiceUnavailable
			}
			log.Warn("transaction submission failed", "namespace", tx.Namespace, "error", err)
			writeError(w, status, err)
			return
		}

		app.WriteJSON(w, http.StatusOK, submitResponse{Hash: tx.Commit().String()})
	})
	return mux
}
