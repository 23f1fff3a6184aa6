package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/romashka-btc/espresso-sequencer/internal/app"
	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

type blockResponse struct {
	Height       uint64                  `json:"height"`
	Timestamp    time.Time               `json:"timestamp"`
	Size         int                     `json:"size"`
	Transactions []consensus.Transaction `json:"transactions"`
}

type transactionResponse struct {
	Hash        string                `json:"hash"`
	Height      uint64                `json:"height"`
	Index       uint32                `json:"index"`
	Transaction consensus.Transaction `json:"transaction"`
}

// AvailabilityModule serves stored leaves, blocks and transactions.
func AvailabilityModule(r AvailabilityReader) http.Handler { // A
	mux := http.NewServeMux()

	mux.HandleFunc("GET /leaf/{height}", func(w http.ResponseWriter, req *http.Request) {
		leaf, ok := lookupLeaf(w, req, r)
		if !ok {
			return
		}
		app.WriteJSON(w, http.StatusOK, leaf)
	})

	mux.HandleFunc("GET /block/{height}", func(w http.ResponseWriter, req *http.Request) {
		leaf, ok := lookupLeaf(w, req, r)
		if !ok {
			return
		}
		app.WriteJSON(w, http.StatusOK, blockResponse{
			Height:       leaf.Height,
			Timestamp:    leaf.Timestamp,
			Size:         leaf.Block.Size(),
			Transactions: leaf.Block.Transactions,
		})
	})

	mux.HandleFunc("GET /transaction/hash/{hash}", func(w http.ResponseWriter, req *http.Request) {
		hash, err := consensus.ParseCommitment(req.PathValue("hash"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		var found datasource.TransactionQueryData
		err = r.ReadAvailability(req.Context(), func(ds datasource.AvailabilityDataSource) error {
			var err error
			found, err = ds.GetTransaction(req.Context(), hash)
			return err
		})
		if err != nil {
			writeLookupError(w, err)
			return
		}

		app.WriteJSON(w, http.StatusOK, transactionResponse{
			Hash:        hash.String(),
			Height:      found.Height,
			Index:       found.Index,
			Transaction: found.Transaction,
		})
	})

	return mux
}

func lookupLeaf(w http.ResponseWriter, req *http.Request, r AvailabilityReader) (consensus.Leaf, bool) { // A
	height, err := strconv.ParseUint(req.PathValue("height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return consensus.Leaf{}, false
	}

	var leaf consensus.Leaf
	err = r.ReadAvailability(req.Context(), func(ds datasource.AvailabilityDataSource) error {
		var err error
		leaf, err = ds.GetLeaf(req.Context(), height)
		return err
	})
	if err != nil {
		writeLookupError(w, err)
		return consensus.Leaf{}, false
	}
	// Empty blocks encode as [] rather than null.
	if leaf.Block.Transactions == nil {
		leaf.Block.Transactions = []consensus.Transaction{}
	}
	return leaf, true
}

func writeLookupError(w http.ResponseWriter, err error) { // A
	switch {
	case errors.Is(err, datasource.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
