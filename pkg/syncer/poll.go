package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/astromechza/talking-todos/pkg/store"
)

// PollRequest is the body of a request/response sync round. Cookie is the server's
// saved sync state from the previous round, empty on the first one.
type PollRequest struct {
	Cookie   []byte   `json:"cookie,omitempty"`
	Messages [][]byte `json:"messages"`
}

type PollResponse struct {
	Cookie   []byte   `json:"cookie"`
	Messages [][]byte `json:"messages"`
}

// MaxPollRounds bounds a single Poll.
const MaxPollRounds = 50

var ErrNotSettled = errors.New("sync did not settle")

// drain collects every message the sync state currently wants to send.
func drain(s *store.Store, st *store.SyncState) [][]byte {
	out := make([][]byte, 0)
	for {
		msg := s.GenerateSyncMessage(st)
		if msg == nil {
			return out
		}
		out = append(out, msg)
	}
}

// Poll syncs over plain http requests instead of a websocket, for networks that
// do not allow upgrades. Rounds repeat until neither side has anything new.
// Sync state is kept between calls so later polls only exchange what is new.
func (z *Synchronizer) Poll(ctx context.Context) error {
	z.pollMu.Lock()
	defer z.pollMu.Unlock()
	if z.pollState == nil {
		z.pollState = z.store.NewSyncState()
	}
	settled := false
	for round := range MaxPollRounds {
		out := drain(z.store, z.pollState)
		// the first round always goes out so the server can announce its heads
		if round > 0 && len(out) == 0 && settled {
			return nil
		}
		resp, err := z.postSync(ctx, PollRequest{Cookie: z.cookie, Messages: out})
		if err != nil {
			// the server may have applied part of the exchange, start over next time
			z.pollState = z.store.NewSyncState()
			z.cookie = nil
			return err
		}
		z.cookie = resp.Cookie
		before := store.HeadsKey(z.store.Heads())
		for _, msg := range resp.Messages {
			if err := z.store.ReceiveSyncMessage(z.pollState, msg); err != nil {
				return err
			}
		}
		settled = store.HeadsKey(z.store.Heads()) == before
	}
	return ErrNotSettled
}

func (z *Synchronizer) postSync(ctx context.Context, body PollRequest) (PollResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return PollResponse{}, fmt.Errorf("failed to encode body: %w", err)
	}
	h, err := z.header(ctx)
	if err != nil {
		return PollResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL(z.url, "sync"), bytes.NewReader(raw))
	if err != nil {
		return PollResponse{}, err
	}
	req.Header = h
	req.Header.Set("Content-Type", "application/json")
	resp, err := z.cfg.HTTPClient.Do(req)
	if err != nil {
		return PollResponse{}, fmt.Errorf("failed to start sync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PollResponse{}, z.statusError(resp.StatusCode)
	}
	var out PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PollResponse{}, fmt.Errorf("failed to read sync body: %w", err)
	}
	return out, nil
}

// Answer runs the server side of one poll round against s.
func Answer(s *store.Store, req PollRequest) (PollResponse, error) {
	st := s.NewSyncState()
	if len(req.Cookie) > 0 {
		var err error
		if st, err = s.LoadSyncState(req.Cookie); err != nil {
			return PollResponse{}, err
		}
	}
	for _, msg := range req.Messages {
		if err := s.ReceiveSyncMessage(st, msg); err != nil {
			return PollResponse{}, err
		}
	}
	return PollResponse{Cookie: st.Save(), Messages: drain(s, st)}, nil
}
