package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/colorfulnotion/cartezcash/czerrors"
	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Failure kinds carried in a verify response.
const (
	KindScript = "script"
	KindProof  = "proof"
)

type prevOutJSON struct {
	Value  uint64        `json:"value"`
	Script hexutil.Bytes `json:"script"`
}

type verifyRequestJSON struct {
	Tx       hexutil.Bytes `json:"tx"`
	PrevOuts []prevOutJSON `json:"prevouts"`
	Height   uint32        `json:"height"`
}

type verifyResponseJSON struct {
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Remote delegates verification to a verifier service over HTTP:
// POST {url}/verify with the serialized transaction and its previous outputs.
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote creates a client for the verifier service at url. A zero
// timeout leaves the deadline to the caller's context.
func NewRemote(url string, timeout time.Duration) *Remote {
	return &Remote{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Verify(ctx context.Context, req *Request) error {
	body := verifyRequestJSON{Tx: req.Tx.Bytes(), Height: req.Height}
	for _, out := range req.PrevOuts {
		body.PrevOuts = append(body.PrevOuts, prevOutJSON{Value: out.Value, Script: out.Script})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/verify", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		log.Warn(log.Verifier, "verifier request failed", "url", r.url, "err", err)
		return fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", czerrors.ErrVerifierUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out verifyResponseJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode response: %v", czerrors.ErrVerifierUnavailable, err)
	}
	if out.OK {
		return nil
	}
	switch out.Kind {
	case KindScript:
		return fmt.Errorf("%w: %s", czerrors.ErrScriptVerificationFailed, out.Reason)
	case KindProof:
		return fmt.Errorf("%w: %s", czerrors.ErrShieldedProofInvalid, out.Reason)
	default:
		return fmt.Errorf("%w: unknown failure kind %q", czerrors.ErrVerifierUnavailable, out.Kind)
	}
}

// Handler serves POST /verify backed by v, the server side of Remote.
func Handler(v Verifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var in verifyRequestJSON
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "Invalid verify request", http.StatusBadRequest)
			return
		}
		tx, err := types.ParseTransaction(in.Tx)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid transaction: %v", err), http.StatusBadRequest)
			return
		}
		req := &Request{Tx: tx, Height: in.Height}
		for _, out := range in.PrevOuts {
			req.PrevOuts = append(req.PrevOuts, types.TxOut{Value: out.Value, Script: out.Script})
		}

		var resp verifyResponseJSON
		err = v.Verify(r.Context(), req)
		switch {
		case err == nil:
			resp.OK = true
		case errors.Is(err, czerrors.ErrScriptVerificationFailed):
			resp.Kind, resp.Reason = KindScript, err.Error()
		case errors.Is(err, czerrors.ErrShieldedProofInvalid):
			resp.Kind, resp.Reason = KindProof, err.Error()
		default:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error(log.Verifier, "failed to write verify response", "err", err)
		}
	})
	return mux
}
